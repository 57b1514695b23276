// Package mongo implements the store using the official MongoDB driver.
// Suitable for distributed deployments requiring horizontal scaling and
// flexible schema evolution. Run claims and cron fire claims ride
// FindOneAndUpdate's document-level atomicity; the ledger's append-once
// guarantee is a unique compound index on (run_id, index).
//
// The caller owns the client lifecycle -- mongo never closes it. Pass
// the database handle through the constructor:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store := mongo.New(client.Database("ratchet"))
//	store.Migrate(ctx)
package mongo

// Package history persists miner poll outcomes to SQLite.
//
// It keeps a registry of every rig the poller has seen and a rolling
// log of poll results, giving a local record of uptime and hashrate
// even when the time-series database is unavailable.
//
// Usage:
//
//	repo := history.NewSQLiteRepository(db.DB)
//	id, err := repo.EnsureMiner(ctx, "avalon-01", "10.0.0.21:4028", "cgminer")
//	if err != nil {
//	    return err
//	}
//	err = repo.RecordPoll(ctx, history.Record{MinerID: id, OK: true, MHSAv: 81350.2})
package history

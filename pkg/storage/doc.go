// Package storage persists what the scraper produces.
//
// Store is a SQLite database (modernc.org/sqlite, no cgo) holding the
// tracked accounts, the posts of each account's last successful scrape and
// a history of batch runs. ReportWriter keeps every batch report as a JSON
// file named after the report id; files are written to a temporary name
// and renamed into place so readers never see a partial report.
//
//	store, err := storage.Open(cfg.Storage.DatabasePath, log)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if _, err := store.RecordReport(ctx, report); err != nil {
//	    return err
//	}
package storage

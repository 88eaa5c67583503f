// Package store persists enrollment templates and archived sessions.
//
// The matching core only reads templates (LoadTemplate for verification,
// IterateTemplates for the identification pool); writes happen at the
// enrollment-completion boundary on behalf of the calling application.
// SQLiteStore is the reference implementation; MockStore backs tests.
package store

// Package meet is the tenant-scoped Google Meet client for conference
// records and transcripts.
//
// Resource names follow the Meet REST API:
//
//	conferenceRecords/{record}
//	conferenceRecords/{record}/transcripts/{transcript}
//	conferenceRecords/{record}/transcripts/{transcript}/entries/{entry}
package meet

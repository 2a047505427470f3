package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterSinkEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	err := sink.Record(context.Background(), Event{
		Kind:   KindDecision,
		Tool:   "bash",
		Action: "block",
		Reason: "recursive force-remove of protected path /",
	})
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, KindDecision, got.Kind)
	assert.Equal(t, "bash", got.Tool)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestSQLSinkInsertsEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	sink, err := NewSQLSink(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(
			sqlmock.AnyArg(), "DECISION", sqlmock.AnyArg(),
			"bash", "confirm", "fp123",
			false, "approval required", sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = sink.Record(context.Background(), Event{
		Kind:        KindDecision,
		Tool:        "bash",
		Action:      "confirm",
		Fingerprint: "fp123",
		Reason:      "approval required",
		Metadata:    map[string]any{"category": "destructive"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkNilMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	sink, err := NewSQLSink(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, sink.Record(context.Background(), Event{Kind: KindTicket}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

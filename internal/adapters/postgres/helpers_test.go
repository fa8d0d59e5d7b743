package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

// setupMockContext makes repositories issue their statements against mock,
// as they would against an ambient transaction
func setupMockContext(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txKey{}, querier(mock))
}

// newMockRegistry returns a mock pool whose expectations are checked when
// the test ends
func newMockRegistry(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		mock.Close()
	})
	return mock
}

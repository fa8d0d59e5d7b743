package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

var readCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func TestTransactionManager_CommitsDeleteCascade(t *testing.T) {
	mock := newMockRegistry(t)
	txMgr := NewTransactionManager(mock)
	repo := &MCPServerRepository{BaseRepository: BaseRepository{pool: nil}}

	server := testServer()
	mock.ExpectBeginTx(readCommitted)
	mock.ExpectQuery("UPDATE mcphub_mcp_servers SET deleted_at").
		WithArgs(server.ID, pgxmock.AnyArg()).
		WillReturnRows(serverRow(pgxmock.NewRows(mcpServerColumnNames), server))
	mock.ExpectExec("DELETE FROM mcphub_user_server_configs").
		WithArgs(server.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM mcphub_mcp_tools").
		WithArgs(server.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	err := txMgr.WithTransaction(context.Background(), func(ctx context.Context) error {
		if txFrom(ctx) == nil {
			t.Error("callback should run inside the transaction")
		}
		_, err := repo.Delete(ctx, server.ID)
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestTransactionManager_RollsBackPartialCascade(t *testing.T) {
	mock := newMockRegistry(t)
	txMgr := NewTransactionManager(mock)
	repo := &MCPServerRepository{BaseRepository: BaseRepository{pool: nil}}

	server := testServer()
	lockErr := errors.New("lock timeout")
	mock.ExpectBeginTx(readCommitted)
	mock.ExpectQuery("UPDATE mcphub_mcp_servers SET deleted_at").
		WithArgs(server.ID, pgxmock.AnyArg()).
		WillReturnRows(serverRow(pgxmock.NewRows(mcpServerColumnNames), server))
	mock.ExpectExec("DELETE FROM mcphub_user_server_configs").
		WithArgs(server.ID).
		WillReturnError(lockErr)
	mock.ExpectRollback()

	err := txMgr.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := repo.Delete(ctx, server.ID)
		return err
	})
	if !errors.Is(err, lockErr) {
		t.Fatalf("expected the cascade failure, got %v", err)
	}
}

func TestTransactionManager_BeginFailure(t *testing.T) {
	mock := newMockRegistry(t)
	txMgr := NewTransactionManager(mock)

	mock.ExpectBeginTx(readCommitted).WillReturnError(errors.New("pool exhausted"))

	called := false
	err := txMgr.WithTransaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected begin error")
	}
	if called {
		t.Error("callback must not run without a transaction")
	}
}

func TestTransactionManager_NestedCallJoinsOuter(t *testing.T) {
	mock := newMockRegistry(t)
	txMgr := NewTransactionManager(nil)
	repo := &UserServerConfigRepository{BaseRepository: BaseRepository{pool: nil}}

	mock.ExpectExec("DELETE FROM mcphub_user_server_configs").
		WithArgs("user_1", "amcp_1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := txMgr.WithTransaction(setupMockContext(mock), func(txCtx context.Context) error {
		return repo.Delete(txCtx, "user_1", "amcp_1")
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestTransactionManager_NestedErrorPassesThrough(t *testing.T) {
	mock := newMockRegistry(t)
	txMgr := NewTransactionManager(nil)
	testErr := errors.New("owner config rejected")

	err := txMgr.WithTransaction(setupMockContext(mock), func(context.Context) error {
		return testErr
	})
	if !errors.Is(err, testErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestTxFrom_Empty(t *testing.T) {
	if txFrom(context.Background()) != nil {
		t.Error("background context should carry no transaction")
	}
}

func TestUpMigrations_Ordered(t *testing.T) {
	names, err := UpMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "migrations/001_init.up.sql" {
		t.Errorf("unexpected migrations: %v", names)
	}
}

package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// ============================================================
// LedgerRepository Tests
// ============================================================

func TestLedgerRepositoryAppend(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO processed_alerts .* ON CONFLICT \(alert_id\) DO NOTHING`).
					WithArgs("alert-1", at).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "duplicate is not an error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO processed_alerts`).
					WithArgs("alert-1", at).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO processed_alerts`).
					WithArgs("alert-1", at).
					WillReturnError(errors.New("connection refused"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewLedgerRepository(db)
			err = repo.Append(context.Background(), "alert-1", at)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestLedgerRepositoryLoadRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"alert_id"}).
		AddRow("a1").
		AddRow("a2").
		AddRow("a3")
	mock.ExpectQuery(`SELECT alert_id FROM .* ORDER BY seq DESC\s+LIMIT \$1`).
		WithArgs(3).
		WillReturnRows(rows)

	repo := NewLedgerRepository(db)
	ids, err := repo.LoadRecent(context.Background(), 3)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}

	want := []string{"a1", "a2", "a3"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("LoadRecent() = %v, want %v", ids, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestLedgerRepositoryLoadRecentScanError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"alert_id"}).
		AddRow("a1").
		RowError(0, errors.New("row broken"))
	mock.ExpectQuery(`SELECT alert_id`).WithArgs(10).WillReturnRows(rows)

	repo := NewLedgerRepository(db)
	if _, err := repo.LoadRecent(context.Background(), 10); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestLedgerRepositoryTrim(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM processed_alerts\s+WHERE seq <= .*OFFSET \$1 LIMIT 1`).
		WithArgs(1000).
		WillReturnResult(sqlmock.NewResult(0, 250))

	repo := NewLedgerRepository(db)
	if err := repo.Trim(context.Background(), 1000); err != nil {
		t.Errorf("Trim() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestLedgerRepositoryCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM processed_alerts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	repo := NewLedgerRepository(db)
	count, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 42 {
		t.Errorf("Count() = %d, want 42", count)
	}
}

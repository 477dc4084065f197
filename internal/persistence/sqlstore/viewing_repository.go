package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/slots"
)

// ViewingRepository implements persistence.ViewingRepository on SQL.
type ViewingRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.ViewingRepository = (*ViewingRepository)(nil)

// NewViewingRepository creates a new viewing request repository
func NewViewingRepository(pool *ConnectionPool) *ViewingRepository {
	return &ViewingRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const viewingColumns = `id, listing_id, renter_id, landlord_id, proposed_slots, chosen_start, chosen_end,
	status, note, decided_by, decided_at, created_at, updated_at`

type viewingRow struct {
	ID            string         `db:"id"`
	ListingID     string         `db:"listing_id"`
	RenterID      string         `db:"renter_id"`
	LandlordID    string         `db:"landlord_id"`
	ProposedSlots string         `db:"proposed_slots"`
	ChosenStart   sql.NullString `db:"chosen_start"`
	ChosenEnd     sql.NullString `db:"chosen_end"`
	Status        string         `db:"status"`
	Note          sql.NullString `db:"note"`
	DecidedBy     sql.NullString `db:"decided_by"`
	DecidedAt     sql.NullString `db:"decided_at"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func (row viewingRow) toViewing() (persistence.ViewingRequest, error) {
	status := lifecycle.ViewingStatus(row.Status)
	if !status.Valid() {
		return persistence.ViewingRequest{}, fmt.Errorf("%w: viewing status %q", persistence.ErrUnknownEnum, row.Status)
	}

	viewing := persistence.ViewingRequest{
		ID:         row.ID,
		ListingID:  row.ListingID,
		RenterID:   row.RenterID,
		LandlordID: row.LandlordID,
		Status:     status,
		Note:       stringPtr(row.Note),
		DecidedBy:  stringPtr(row.DecidedBy),
	}

	var err error
	if viewing.ProposedSlots, err = decodeSlots(row.ProposedSlots); err != nil {
		return persistence.ViewingRequest{}, err
	}
	if row.ChosenStart.Valid && row.ChosenEnd.Valid {
		start, err := parseTime("chosen_start", row.ChosenStart.String)
		if err != nil {
			return persistence.ViewingRequest{}, err
		}
		end, err := parseTime("chosen_end", row.ChosenEnd.String)
		if err != nil {
			return persistence.ViewingRequest{}, err
		}
		viewing.ChosenSlot = &slots.Slot{Start: start, End: end}
	}
	if viewing.DecidedAt, err = parseNullTime("decided_at", row.DecidedAt); err != nil {
		return persistence.ViewingRequest{}, err
	}
	if viewing.CreatedAt, err = parseTime("created_at", row.CreatedAt); err != nil {
		return persistence.ViewingRequest{}, err
	}
	if viewing.UpdatedAt, err = parseTime("updated_at", row.UpdatedAt); err != nil {
		return persistence.ViewingRequest{}, err
	}
	return viewing, nil
}

// CreateViewing inserts a new viewing request
func (r *ViewingRepository) CreateViewing(ctx context.Context, viewing persistence.ViewingRequest) error {
	if viewing.ID == "" || viewing.ListingID == "" || viewing.RenterID == "" || viewing.LandlordID == "" {
		return persistence.ErrConstraintViolation
	}
	if err := persistence.CheckViewing(viewing); err != nil {
		return err
	}

	proposed, err := encodeSlots(viewing.ProposedSlots)
	if err != nil {
		return err
	}
	var chosenStart, chosenEnd sql.NullString
	if viewing.ChosenSlot != nil {
		chosenStart = sql.NullString{String: formatTime(viewing.ChosenSlot.Start), Valid: true}
		chosenEnd = sql.NullString{String: formatTime(viewing.ChosenSlot.End), Valid: true}
	}

	query := `
		INSERT INTO viewing_requests (` + viewingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.helper.Exec(ctx, query,
		viewing.ID,
		viewing.ListingID,
		viewing.RenterID,
		viewing.LandlordID,
		proposed,
		chosenStart,
		chosenEnd,
		string(viewing.Status),
		nullString(viewing.Note),
		nullString(viewing.DecidedBy),
		formatNullTime(viewing.DecidedAt),
		formatTime(viewing.CreatedAt),
		formatTime(viewing.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetViewing retrieves a viewing request by ID
func (r *ViewingRepository) GetViewing(ctx context.Context, id string) (persistence.ViewingRequest, error) {
	if id == "" {
		return persistence.ViewingRequest{}, persistence.ErrNotFound
	}
	var row viewingRow
	if err := r.helper.Get(ctx, &row, `SELECT `+viewingColumns+` FROM viewing_requests WHERE id = ?`, id); err != nil {
		return persistence.ViewingRequest{}, r.mapper.MapError(err)
	}
	return row.toViewing()
}

// TransitionViewing moves a request out of t.From in one conditional UPDATE.
// The chosen slot is written only when t.Chosen is set.
func (r *ViewingRepository) TransitionViewing(ctx context.Context, t persistence.ViewingTransition) (persistence.ViewingRequest, error) {
	if err := persistence.CheckViewingTransition(t.From, t.To); err != nil {
		return persistence.ViewingRequest{}, err
	}

	var chosenStart, chosenEnd sql.NullString
	if t.Chosen != nil {
		chosenStart = sql.NullString{String: formatTime(t.Chosen.Start), Valid: true}
		chosenEnd = sql.NullString{String: formatTime(t.Chosen.End), Valid: true}
	}

	query := `
		UPDATE viewing_requests
		SET status = ?, chosen_start = ?, chosen_end = ?, decided_by = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	var updated persistence.ViewingRequest
	err := r.pool.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		result, err := r.helper.ExecTx(ctx, tx, query,
			string(t.To),
			chosenStart,
			chosenEnd,
			t.ActorID,
			formatTime(t.At),
			formatTime(t.At),
			t.ID,
			string(t.From),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		var row viewingRow
		if err := r.helper.GetTx(ctx, tx, &row, `SELECT `+viewingColumns+` FROM viewing_requests WHERE id = ?`, t.ID); err != nil {
			return r.mapper.MapError(err)
		}
		if rowsAffected == 0 {
			return persistence.ErrStaleState
		}
		updated, err = row.toViewing()
		return err
	})
	if err != nil {
		return persistence.ViewingRequest{}, err
	}
	return updated, nil
}

// ListViewings returns viewing requests matching filter, newest first.
func (r *ViewingRepository) ListViewings(ctx context.Context, filter persistence.ViewingFilter) ([]persistence.ViewingRequest, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ListingID != "" {
		where = append(where, "listing_id = ?")
		args = append(args, filter.ListingID)
	}
	if filter.RenterID != "" {
		where = append(where, "renter_id = ?")
		args = append(args, filter.RenterID)
	}
	if filter.LandlordID != "" {
		where = append(where, "landlord_id = ?")
		args = append(args, filter.LandlordID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}

	query := `SELECT ` + viewingColumns + ` FROM viewing_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	query, args, err := r.helper.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand viewing filter: %w", err)
	}

	var rows []viewingRow
	if err := r.helper.Select(ctx, &rows, query, args...); err != nil {
		return nil, r.mapper.MapError(err)
	}

	viewings := make([]persistence.ViewingRequest, 0, len(rows))
	for _, row := range rows {
		viewing, err := row.toViewing()
		if err != nil {
			return nil, fmt.Errorf("viewing request %s: %w", row.ID, err)
		}
		viewings = append(viewings, viewing)
	}
	return viewings, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
)

// ListingRepository implements persistence.ListingRepository on SQL. Every
// status change is a single UPDATE guarded by the expected status.
type ListingRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.ListingRepository = (*ListingRepository)(nil)

// NewListingRepository creates a new listing repository
func NewListingRepository(pool *ConnectionPool) *ListingRepository {
	return &ListingRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const listingColumns = `id, owner_id, status, title, city, description, price_cents, bedrooms, bathrooms,
	images, amenities, video_url, reviewed_by, reviewed_at, created_at, updated_at`

type listingRow struct {
	ID          string         `db:"id"`
	OwnerID     string         `db:"owner_id"`
	Status      string         `db:"status"`
	Title       string         `db:"title"`
	City        string         `db:"city"`
	Description sql.NullString `db:"description"`
	PriceCents  int64          `db:"price_cents"`
	Bedrooms    sql.NullInt64  `db:"bedrooms"`
	Bathrooms   sql.NullInt64  `db:"bathrooms"`
	Images      string         `db:"images"`
	Amenities   string         `db:"amenities"`
	VideoURL    sql.NullString `db:"video_url"`
	ReviewedBy  sql.NullString `db:"reviewed_by"`
	ReviewedAt  sql.NullString `db:"reviewed_at"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

func (row listingRow) toListing() (persistence.Listing, error) {
	status := lifecycle.ListingStatus(row.Status)
	if !status.Valid() {
		return persistence.Listing{}, fmt.Errorf("%w: listing status %q", persistence.ErrUnknownEnum, row.Status)
	}

	listing := persistence.Listing{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Status:      status,
		Title:       row.Title,
		City:        row.City,
		Description: stringPtr(row.Description),
		PriceCents:  row.PriceCents,
		Bedrooms:    intPtr(row.Bedrooms),
		Bathrooms:   intPtr(row.Bathrooms),
		VideoURL:    stringPtr(row.VideoURL),
		ReviewedBy:  stringPtr(row.ReviewedBy),
	}

	var err error
	if listing.Images, err = decodeStrings("images", row.Images); err != nil {
		return persistence.Listing{}, err
	}
	if listing.Amenities, err = decodeStrings("amenities", row.Amenities); err != nil {
		return persistence.Listing{}, err
	}
	if listing.ReviewedAt, err = parseNullTime("reviewed_at", row.ReviewedAt); err != nil {
		return persistence.Listing{}, err
	}
	if listing.CreatedAt, err = parseTime("created_at", row.CreatedAt); err != nil {
		return persistence.Listing{}, err
	}
	if listing.UpdatedAt, err = parseTime("updated_at", row.UpdatedAt); err != nil {
		return persistence.Listing{}, err
	}
	return listing, nil
}

// CreateListing inserts a new listing
func (r *ListingRepository) CreateListing(ctx context.Context, listing persistence.Listing) error {
	if listing.ID == "" || listing.OwnerID == "" {
		return persistence.ErrConstraintViolation
	}
	if err := persistence.CheckListing(listing); err != nil {
		return err
	}

	images, err := encodeStrings(listing.Images)
	if err != nil {
		return err
	}
	amenities, err := encodeStrings(listing.Amenities)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.helper.Exec(ctx, query,
		listing.ID,
		listing.OwnerID,
		string(listing.Status),
		listing.Title,
		listing.City,
		nullString(listing.Description),
		listing.PriceCents,
		nullInt(listing.Bedrooms),
		nullInt(listing.Bathrooms),
		images,
		amenities,
		nullString(listing.VideoURL),
		nullString(listing.ReviewedBy),
		formatNullTime(listing.ReviewedAt),
		formatTime(listing.CreatedAt),
		formatTime(listing.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetListing retrieves a listing by ID
func (r *ListingRepository) GetListing(ctx context.Context, id string) (persistence.Listing, error) {
	if id == "" {
		return persistence.Listing{}, persistence.ErrNotFound
	}
	var row listingRow
	if err := r.helper.Get(ctx, &row, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id); err != nil {
		return persistence.Listing{}, r.mapper.MapError(err)
	}
	return row.toListing()
}

// UpdateListingContent rewrites the editable columns while the stored status equals expected.
func (r *ListingRepository) UpdateListingContent(ctx context.Context, listing persistence.Listing, expected lifecycle.ListingStatus) (persistence.Listing, error) {
	if !expected.Valid() {
		return persistence.Listing{}, persistence.ErrUnknownEnum
	}
	images, err := encodeStrings(listing.Images)
	if err != nil {
		return persistence.Listing{}, err
	}
	amenities, err := encodeStrings(listing.Amenities)
	if err != nil {
		return persistence.Listing{}, err
	}

	query := `
		UPDATE listings
		SET title = ?, city = ?, description = ?, price_cents = ?, bedrooms = ?, bathrooms = ?,
			images = ?, amenities = ?, video_url = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	var updated persistence.Listing
	err = r.pool.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		result, err := r.helper.ExecTx(ctx, tx, query,
			listing.Title,
			listing.City,
			nullString(listing.Description),
			listing.PriceCents,
			nullInt(listing.Bedrooms),
			nullInt(listing.Bathrooms),
			images,
			amenities,
			nullString(listing.VideoURL),
			formatTime(listing.UpdatedAt),
			listing.ID,
			string(expected),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		updated, err = r.afterConditionalUpdate(ctx, tx, listing.ID, result)
		return err
	})
	if err != nil {
		return persistence.Listing{}, err
	}
	return updated, nil
}

// TransitionListing moves a listing from t.From to t.To in one conditional UPDATE.
func (r *ListingRepository) TransitionListing(ctx context.Context, t persistence.ListingTransition) (persistence.Listing, error) {
	if err := persistence.CheckTransition(t.From, t.To); err != nil {
		return persistence.Listing{}, err
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(t.To), formatTime(t.At)}
	switch {
	case t.ReviewerID != nil:
		set = append(set, "reviewed_by = ?", "reviewed_at = ?")
		args = append(args, *t.ReviewerID, formatTime(t.At))
	case t.ClearReview:
		set = append(set, "reviewed_by = NULL", "reviewed_at = NULL")
	}
	args = append(args, t.ID, string(t.From))
	query := `UPDATE listings SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND status = ?`

	var updated persistence.Listing
	err := r.pool.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		result, err := r.helper.ExecTx(ctx, tx, query, args...)
		if err != nil {
			return r.mapper.MapError(err)
		}
		updated, err = r.afterConditionalUpdate(ctx, tx, t.ID, result)
		return err
	})
	if err != nil {
		return persistence.Listing{}, err
	}
	return updated, nil
}

// afterConditionalUpdate re-reads the row touched by a guarded UPDATE. When
// nothing was updated it distinguishes a missing row from a stale status.
func (r *ListingRepository) afterConditionalUpdate(ctx context.Context, tx *sqlx.Tx, id string, result sql.Result) (persistence.Listing, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.Listing{}, fmt.Errorf("failed to get rows affected: %w", err)
	}

	var row listingRow
	if err := r.helper.GetTx(ctx, tx, &row, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id); err != nil {
		return persistence.Listing{}, r.mapper.MapError(err)
	}
	if rowsAffected == 0 {
		return persistence.Listing{}, persistence.ErrStaleState
	}
	return row.toListing()
}

// ListListings returns listings matching filter.
func (r *ListingRepository) ListListings(ctx context.Context, filter persistence.ListingFilter) ([]persistence.Listing, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}
	if city := strings.ToLower(strings.TrimSpace(filter.CityContains)); city != "" {
		where = append(where, `LOWER(city) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(city)+"%")
	}
	if filter.MinBedrooms != nil {
		where = append(where, "bedrooms IS NOT NULL AND bedrooms >= ?")
		args = append(args, *filter.MinBedrooms)
	}
	if filter.MaxPriceCents != nil {
		where = append(where, "price_cents <= ?")
		args = append(args, *filter.MaxPriceCents)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.Order == persistence.OrderOldestUpdate {
		query += ` ORDER BY updated_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id DESC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	query, args, err := r.helper.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand listing filter: %w", err)
	}

	var rows []listingRow
	if err := r.helper.Select(ctx, &rows, query, args...); err != nil {
		return nil, r.mapper.MapError(err)
	}

	listings := make([]persistence.Listing, 0, len(rows))
	for _, row := range rows {
		listing, err := row.toListing()
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", row.ID, err)
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

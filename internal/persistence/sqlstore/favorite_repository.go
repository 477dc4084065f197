package sqlstore

import (
	"context"
	"fmt"

	"github.com/example/rental-broker/internal/persistence"
)

// FavoriteRepository implements persistence.FavoriteRepository on SQL.
type FavoriteRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.FavoriteRepository = (*FavoriteRepository)(nil)

// NewFavoriteRepository creates a new favorite repository
func NewFavoriteRepository(pool *ConnectionPool) *FavoriteRepository {
	return &FavoriteRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

type favoriteRow struct {
	UserID    string `db:"user_id"`
	ListingID string `db:"listing_id"`
	CreatedAt string `db:"created_at"`
}

// AddFavorite inserts a favorite. The (user_id, listing_id) primary key
// turns a repeat into ErrDuplicate.
func (r *FavoriteRepository) AddFavorite(ctx context.Context, favorite persistence.Favorite) error {
	if favorite.UserID == "" || favorite.ListingID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.helper.Exec(ctx,
		`INSERT INTO favorites (user_id, listing_id, created_at) VALUES (?, ?, ?)`,
		favorite.UserID, favorite.ListingID, formatTime(favorite.CreatedAt),
	)
	return r.mapper.MapError(err)
}

// RemoveFavorite deletes a favorite
func (r *FavoriteRepository) RemoveFavorite(ctx context.Context, userID, listingID string) error {
	result, err := r.helper.Exec(ctx,
		`DELETE FROM favorites WHERE user_id = ? AND listing_id = ?`,
		userID, listingID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireRow(result)
}

// ListFavorites returns the user's favorites, newest first
func (r *FavoriteRepository) ListFavorites(ctx context.Context, userID string) ([]persistence.Favorite, error) {
	var rows []favoriteRow
	err := r.helper.Select(ctx, &rows,
		`SELECT user_id, listing_id, created_at FROM favorites WHERE user_id = ? ORDER BY created_at DESC, listing_id DESC`,
		userID,
	)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}

	favorites := make([]persistence.Favorite, 0, len(rows))
	for _, row := range rows {
		createdAt, err := parseTime("created_at", row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("favorite %s: %w", row.ListingID, err)
		}
		favorites = append(favorites, persistence.Favorite{
			UserID:    row.UserID,
			ListingID: row.ListingID,
			CreatedAt: createdAt,
		})
	}
	return favorites, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"depot/internal/jobrunner"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PkgCatalog stores package icons and categories.
type PkgCatalog struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPkgCatalog creates a catalog over db.
func NewPkgCatalog(db *sqlx.DB) *PkgCatalog {
	return &PkgCatalog{db: db, now: time.Now}
}

// PkgExists implements jobrunner.IconStore.
func (c *PkgCatalog) PkgExists(ctx context.Context, pkgName string) (bool, error) {
	var exists bool
	if err := c.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM haikudepot.pkg WHERE name = $1)`, pkgName); err != nil {
		return false, fmt.Errorf("lookup pkg %s: %w", pkgName, err)
	}
	return exists, nil
}

// ReplaceIcons implements jobrunner.IconStore.
func (c *PkgCatalog) ReplaceIcons(ctx context.Context, pkgName string, icons []jobrunner.Icon, agent string) error {
	now := c.now().UTC()
	return inTx(ctx, c.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM haikudepot.pkg_icon WHERE pkg_name = $1`, pkgName); err != nil {
			return fmt.Errorf("delete icons of %s: %w", pkgName, err)
		}
		for _, icon := range icons {
			size := sql.NullInt64{Int64: int64(icon.Size), Valid: icon.Size != 0}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO haikudepot.pkg_icon (pkg_name, media_type, size, data, sha256)
				VALUES ($1, $2, $3, $4, $5)
			`, pkgName, icon.MediaType, size, icon.Data, icon.SHA256); err != nil {
				return fmt.Errorf("insert icon of %s: %w", pkgName, err)
			}
			content := fmt.Sprintf("add icon for pkg [%s]; size [%d]; media type [%s]; sha256 [%s]", pkgName, icon.Size, icon.MediaType, icon.SHA256)
			if err := recordModification(ctx, tx, pkgName, agent, content, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// CategoryCodes implements jobrunner.CategoryStore.
func (c *PkgCatalog) CategoryCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := c.db.SelectContext(ctx, &codes, `SELECT code FROM haikudepot.pkg_category ORDER BY code`); err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	return codes, nil
}

// PkgCategories implements jobrunner.CategoryStore.
func (c *PkgCatalog) PkgCategories(ctx context.Context, pkgName string) ([]string, bool, error) {
	exists, err := c.PkgExists(ctx, pkgName)
	if err != nil || !exists {
		return nil, false, err
	}
	var codes []string
	if err := c.db.SelectContext(ctx, &codes, `
		SELECT pkg_category_code FROM haikudepot.pkg_pkg_category
		WHERE pkg_name = $1
		ORDER BY pkg_category_code`, pkgName); err != nil {
		return nil, false, fmt.Errorf("select categories of %s: %w", pkgName, err)
	}
	return codes, true, nil
}

// SetPkgCategories implements jobrunner.CategoryStore.
func (c *PkgCatalog) SetPkgCategories(ctx context.Context, pkgName string, codes []string, agent string) error {
	now := c.now().UTC()
	return inTx(ctx, c.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM haikudepot.pkg_pkg_category WHERE pkg_name = $1`, pkgName); err != nil {
			return fmt.Errorf("delete categories of %s: %w", pkgName, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO haikudepot.pkg_pkg_category (pkg_name, pkg_category_code)
			SELECT $1, unnest($2::text[])
		`, pkgName, pq.Array(codes)); err != nil {
			return fmt.Errorf("insert categories of %s: %w", pkgName, err)
		}
		return recordModification(ctx, tx, pkgName, agent, fmt.Sprintf("set categories for pkg [%s] to %v", pkgName, codes), now)
	})
}

func recordModification(ctx context.Context, tx *sqlx.Tx, pkgName, agent, content string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO haikudepot.pkg_supplement_modification (pkg_name, user_description, origin_system_description, content, create_timestamp)
		VALUES ($1, $2, 'depot', $3, $4)
	`, pkgName, nullString(agent), content, at)
	if err != nil {
		return fmt.Errorf("record modification of %s: %w", pkgName, err)
	}
	return nil
}

var (
	_ jobrunner.IconStore     = (*PkgCatalog)(nil)
	_ jobrunner.CategoryStore = (*PkgCatalog)(nil)
)

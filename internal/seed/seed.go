// Package seed bootstraps the default organization and its administrator so
// a fresh installation is usable without manual setup.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/atrium/internal/config"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	userdomain "github.com/smallbiznis/atrium/internal/user/domain"
	"gorm.io/gorm"
)

// EnsureDefaultOrg seeds the default organization for startup bootstrap.
func EnsureDefaultOrg(db *gorm.DB, bootstrap config.BootstrapConfig) error {
	return ensureDefaultOrg(db, bootstrap, 0)
}

// EnsureDefaultOrgWithID pins the default organization to a fixed ID so
// several deployments can agree on it out of band.
func EnsureDefaultOrgWithID(db *gorm.DB, bootstrap config.BootstrapConfig, id int64) error {
	return ensureDefaultOrg(db, bootstrap, snowflake.ID(id))
}

func ensureDefaultOrg(db *gorm.DB, bootstrap config.BootstrapConfig, id snowflake.ID) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := ensureDefaultOrgTx(ctx, tx, node, bootstrap, id)
		return err
	})
}

// EnsureDefaultOrgAndAdmin seeds the default organization plus the
// administrator account and its membership. A blank admin email skips the
// admin half so deployments that provision users elsewhere stay untouched.
func EnsureDefaultOrgAndAdmin(db *gorm.DB, bootstrap config.BootstrapConfig) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	adminEmail := strings.ToLower(strings.TrimSpace(bootstrap.AdminEmail))
	if adminEmail == "" {
		return nil
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureDefaultOrgTx(ctx, tx, node, bootstrap, 0)
		if err != nil {
			return err
		}

		var user userdomain.User
		err = tx.WithContext(ctx).Where("email = ?", adminEmail).First(&user).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			now := time.Now().UTC()
			user = userdomain.User{
				ID:          node.Generate(),
				Email:       adminEmail,
				DisplayName: adminDisplayName(bootstrap),
				IsDefault:   true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
				return err
			}
		}

		var member orgdomain.OrganizationMember
		err = tx.WithContext(ctx).
			Where("org_id = ? AND user_id = ?", org.ID, user.ID).
			First(&member).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			member = orgdomain.OrganizationMember{
				ID:        node.Generate(),
				OrgID:     org.ID,
				UserID:    user.ID,
				Role:      orgdomain.RoleAdmin,
				CreatedAt: time.Now().UTC(),
			}
			if err := tx.WithContext(ctx).Create(&member).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func ensureDefaultOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, bootstrap config.BootstrapConfig, id snowflake.ID) (orgdomain.Organization, error) {
	var org orgdomain.Organization
	err := tx.WithContext(ctx).Where("is_default = ?", true).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}

	name := strings.TrimSpace(bootstrap.OrgName)
	if name == "" {
		name = "Main Organization"
	}
	if id == 0 {
		id = node.Generate()
	}
	now := time.Now().UTC()
	org = orgdomain.Organization{
		ID:        id,
		Name:      name,
		Slug:      slug.Make(name),
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, err
	}
	return org, nil
}

func adminDisplayName(bootstrap config.BootstrapConfig) string {
	name := strings.TrimSpace(bootstrap.AdminName)
	if name == "" {
		return "Administrator"
	}
	return name
}

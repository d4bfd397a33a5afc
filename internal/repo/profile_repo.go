package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/xxxsen/magent/internal/model"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

type ProfileRepo struct {
	db *sql.DB
}

func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

func (r *ProfileRepo) Upsert(ctx context.Context, p *model.CompanyProfile) error {
	facts, err := json.Marshal(p.Facts)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO company_profiles (company_id, name, industry, description, facts, mtime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_id) DO UPDATE SET
			name = EXCLUDED.name,
			industry = EXCLUDED.industry,
			description = EXCLUDED.description,
			facts = EXCLUDED.facts,
			mtime = EXCLUDED.mtime`,
		p.CompanyID, p.Name, p.Industry, p.Description, string(facts), p.Mtime)
	return err
}

func (r *ProfileRepo) Get(ctx context.Context, companyID string) (*model.CompanyProfile, error) {
	var p model.CompanyProfile
	var facts []byte
	err := r.db.QueryRowContext(ctx, `SELECT company_id, name, industry, description, facts, mtime
		FROM company_profiles WHERE company_id = $1`, companyID).
		Scan(&p.CompanyID, &p.Name, &p.Industry, &p.Description, &facts, &p.Mtime)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(facts) > 0 {
		if err := json.Unmarshal(facts, &p.Facts); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipd/ipd/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const admCols = `id, patient_number, patient_name, sex, age_years, ward, bed,
	admitting_doctor, diagnosis, status, admitted_at, discharged_at,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, adm *Admission) error {
	adm.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (
			id, patient_number, patient_name, sex, age_years, ward, bed,
			admitting_doctor, diagnosis, status, admitted_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		adm.ID, adm.PatientNumber, adm.PatientName, adm.Sex, adm.AgeYears, adm.Ward, adm.Bed,
		adm.AdmittingDoctor, adm.Diagnosis, adm.Status, adm.AdmittedAt,
	)
	if err := row.Scan(&adm.CreatedAt, &adm.UpdatedAt); err != nil {
		return fmt.Errorf("insert admission: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	adm, err := scanAdm(r.conn(ctx).QueryRow(ctx, `SELECT `+admCols+` FROM admission WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return adm, err
}

func (r *repoPG) Update(ctx context.Context, adm *Admission) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE admission SET
			patient_name=$2, sex=$3, age_years=$4, ward=$5, bed=$6,
			admitting_doctor=$7, diagnosis=$8, status=$9,
			discharged_at=$10, updated_at=NOW()
		WHERE id = $1`,
		adm.ID, adm.PatientName, adm.Sex, adm.AgeYears, adm.Ward, adm.Bed,
		adm.AdmittingDoctor, adm.Diagnosis, adm.Status,
		adm.DischargedAt,
	)
	if err != nil {
		return fmt.Errorf("update admission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Admission, int, error) {
	var conds []string
	var args []interface{}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Ward != "" {
		args = append(args, f.Ward)
		conds = append(conds, fmt.Sprintf("ward = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+admCols+` FROM admission`+where+
			fmt.Sprintf(` ORDER BY admitted_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var adms []*Admission
	for rows.Next() {
		adm, err := scanAdm(rows)
		if err != nil {
			return nil, 0, err
		}
		adms = append(adms, adm)
	}
	return adms, total, rows.Err()
}

func scanAdm(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(
		&a.ID, &a.PatientNumber, &a.PatientName, &a.Sex, &a.AgeYears, &a.Ward, &a.Bed,
		&a.AdmittingDoctor, &a.Diagnosis, &a.Status, &a.AdmittedAt, &a.DischargedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

package diagnosis

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tcmclinic/tcmclinic/internal/domain/visit"
	"github.com/tcmclinic/tcmclinic/internal/errs"
	"github.com/tcmclinic/tcmclinic/internal/platform/db"
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

func (r *repoPG) Attach(ctx context.Context, rec *DiagnosisRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		var explanation, model, comments *string
		var elapsed *float64
		var doctorID *uuid.UUID
		if rec.AI != nil {
			explanation, elapsed, model = &rec.AI.Explanation, &rec.AI.Elapsed, &rec.AI.Model
		}
		if rec.Doctor != nil {
			doctorID, comments = &rec.Doctor.DoctorID, &rec.Doctor.Comments
		}

		_, err := q.Exec(ctx, `
			INSERT INTO diagnosis_record (
				id, visit_id, kind, record, syndrome, prescription, exercise_plan,
				explanation, elapsed, model, doctor_id, comments)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			rec.ID, rec.VisitID, rec.Kind, rec.Record, rec.Syndrome,
			rec.Prescription, rec.ExercisePlan,
			explanation, elapsed, model, doctorID, comments,
		)
		if err != nil {
			return errs.Persistence("attach diagnosis", err)
		}

		tag, err := q.Exec(ctx, `
			UPDATE visit SET status = $2, updated_at = now() WHERE id = $1`,
			rec.VisitID, visit.StatusCompleted,
		)
		if err != nil {
			return errs.Persistence("complete visit", err)
		}
		if tag.RowsAffected() != 1 {
			return errs.NotFoundf("visit not found")
		}
		return nil
	})
}

const recordCols = `id, visit_id, kind, record, syndrome, prescription, exercise_plan,
	explanation, elapsed, model, doctor_id, comments, created_at, updated_at`

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*DiagnosisRecord, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM diagnosis_record WHERE visit_id = $1 ORDER BY created_at`,
		visitID)
	if err != nil {
		return nil, errs.Persistence("list diagnoses", err)
	}
	defer rows.Close()

	var records []*DiagnosisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*DiagnosisRecord, error) {
	var rec DiagnosisRecord
	var explanation, model, comments *string
	var elapsed *float64
	var doctorID *uuid.UUID

	err := row.Scan(
		&rec.ID, &rec.VisitID, &rec.Kind, &rec.Record, &rec.Syndrome,
		&rec.Prescription, &rec.ExercisePlan,
		&explanation, &elapsed, &model, &doctorID, &comments,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFoundf("diagnosis not found")
		}
		return nil, errs.Persistence("scan diagnosis", err)
	}

	switch rec.Kind {
	case KindAI:
		rec.AI = &AIDetail{}
		if explanation != nil {
			rec.AI.Explanation = *explanation
		}
		if elapsed != nil {
			rec.AI.Elapsed = *elapsed
		}
		if model != nil {
			rec.AI.Model = *model
		}
	case KindDoctor:
		rec.Doctor = &DoctorDetail{}
		if doctorID != nil {
			rec.Doctor.DoctorID = *doctorID
		}
		if comments != nil {
			rec.Doctor.Comments = *comments
		}
	}
	return &rec, nil
}

package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const visitCols = `id, idempotency_key, patient_id, status, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = StatusPending
	}
	q := r.conn(ctx)

	_, err := q.Exec(ctx, `
		INSERT INTO visit (id, idempotency_key, patient_id, status)
		VALUES ($1,$2,$3,$4)`,
		v.ID, v.IdempotencyKey, v.PatientID, v.Status,
	)
	if err != nil {
		return createErr(err, v.IdempotencyKey)
	}

	if v.PreDiagnosis == nil {
		return nil
	}
	pd := v.PreDiagnosis
	if pd.ID == uuid.Nil {
		pd.ID = uuid.New()
	}
	pd.VisitID = v.ID
	_, err = q.Exec(ctx, `
		INSERT INTO pre_diagnosis (id, visit_id, idempotency_key, height, weight, conversation_log)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		pd.ID, pd.VisitID, pd.IdempotencyKey, pd.Height, pd.Weight, pd.ConversationLog,
	)
	if err != nil {
		return createErr(err, pd.IdempotencyKey)
	}

	if pd.Sanzhen == nil {
		return nil
	}
	sz := pd.Sanzhen
	if sz.ID == uuid.Nil {
		sz.ID = uuid.New()
	}
	sz.PreDiagnosisID = pd.ID
	_, err = q.Exec(ctx, `
		INSERT INTO sanzhen_analysis (
			id, pre_diagnosis_id,
			face, face_image_url,
			tongue_front, tongue_front_image_url,
			tongue_bottom, tongue_bottom_image_url,
			pulse, impression)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sz.ID, sz.PreDiagnosisID,
		sz.Face, sz.FaceImageURL,
		sz.TongueFront, sz.TongueFrontImageURL,
		sz.TongueBottom, sz.TongueBottomImageURL,
		sz.Pulse, sz.Impression,
	)
	if err != nil {
		return errs.Persistence("create sanzhen analysis", err)
	}
	return nil
}

func createErr(err error, key uuid.UUID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errs.Conflictf("visit with key %s already exists", key)
	}
	return errs.Persistence("create visit", err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadPreDiagnosis(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *repoPG) GetByKey(ctx context.Context, key uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visit WHERE idempotency_key = $1`, key))
	if err != nil {
		return nil, err
	}
	if err := r.loadPreDiagnosis(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM visit WHERE patient_id = $1`, patientID).Scan(&total)
	if err != nil {
		return nil, 0, errs.Persistence("count visits", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit
		 WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, errs.Persistence("list visits", err)
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.IdempotencyKey, &v.PatientID, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, errs.Persistence("scan visit", err)
		}
		visits = append(visits, &v)
	}
	return visits, total, nil
}

func (r *repoPG) BeginPipeline(ctx context.Context, id uuid.UUID, staleAfter time.Duration) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET status = $2, updated_at = now()
		WHERE id = $1
		  AND (status = $3 OR (status = $2 AND updated_at < now() - $4 * interval '1 second'))`,
		id, StatusInProgress, StatusPending, staleAfter.Seconds(),
	)
	if err != nil {
		return errs.Persistence("begin pipeline", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = r.conn(ctx).QueryRow(ctx, `SELECT status FROM visit WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFoundf("visit not found")
		}
		return errs.Persistence("begin pipeline", err)
	}
	switch status {
	case StatusInProgress:
		return errs.Conflictf("a diagnosis is already in progress for visit %s", id)
	case StatusCompleted:
		return errs.Conflictf("visit %s is already completed", id)
	default:
		return errs.Conflictf("visit %s cannot start a diagnosis from status %s", id, status)
	}
}

func (r *repoPG) Release(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, StatusPending, StatusInProgress,
	)
	if err != nil {
		return errs.Persistence("release visit", err)
	}
	return nil
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.IdempotencyKey, &v.PatientID, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFoundf("visit not found")
		}
		return nil, errs.Persistence("get visit", err)
	}
	return &v, nil
}

func (r *repoPG) loadPreDiagnosis(ctx context.Context, v *Visit) error {
	var pd PreDiagnosis
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, visit_id, idempotency_key, height, weight, conversation_log, created_at, updated_at
		FROM pre_diagnosis WHERE visit_id = $1`, v.ID).Scan(
		&pd.ID, &pd.VisitID, &pd.IdempotencyKey, &pd.Height, &pd.Weight,
		&pd.ConversationLog, &pd.CreatedAt, &pd.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return errs.Persistence("load pre-diagnosis", err)
	}

	var sz SanzhenAnalysis
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT id, pre_diagnosis_id,
		       face, face_image_url,
		       tongue_front, tongue_front_image_url,
		       tongue_bottom, tongue_bottom_image_url,
		       pulse, impression
		FROM sanzhen_analysis WHERE pre_diagnosis_id = $1`, pd.ID).Scan(
		&sz.ID, &sz.PreDiagnosisID,
		&sz.Face, &sz.FaceImageURL,
		&sz.TongueFront, &sz.TongueFrontImageURL,
		&sz.TongueBottom, &sz.TongueBottomImageURL,
		&sz.Pulse, &sz.Impression)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return errs.Persistence("load sanzhen analysis", err)
		}
	} else {
		pd.Sanzhen = &sz
	}

	v.PreDiagnosis = &pd
	return nil
}

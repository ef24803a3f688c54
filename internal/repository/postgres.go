package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"medquote/internal/apperr"
	"medquote/internal/models"
)

type queryer interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db    *sql.DB
	tasks *PostgresTaskRepository
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tasks: NewPostgresTaskRepository(db)}
}

func (s *PostgresStore) Tasks() TaskRepository {
	return s.tasks
}

// mapPQError turns constraint violations into domain kinds.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505":
		switch pqErr.Constraint {
		case "quotes_one_pending_per_pharmacy":
			return fmt.Errorf("%s: %w", pqErr.Message, apperr.ErrDuplicateQuote)
		case "users_email_key":
			return fmt.Errorf("%s: %w", pqErr.Message, apperr.ErrEmailTaken)
		}
		return fmt.Errorf("%s: %w", pqErr.Message, apperr.ErrConflict)
	case "23503":
		return fmt.Errorf("%s: %w", pqErr.Message, apperr.ErrNotFound)
	case "23514":
		return fmt.Errorf("%s: %w", pqErr.Message, apperr.ErrValidation)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// users

func (s *PostgresStore) insertUser(ctx context.Context, tx *sql.Tx, u *models.User) error {
	query := `INSERT INTO users (id, email, full_name, phone, user_type, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := tx.ExecContext(ctx, query, u.ID, u.Email, u.FullName, u.Phone, u.UserType, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", mapPQError(err))
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertUser(ctx, tx, &c.User); err != nil {
			return err
		}
		query := `INSERT INTO customers (user_id, address, latitude, longitude) VALUES ($1,$2,$3,$4)`
		if _, err := tx.ExecContext(ctx, query, c.ID, c.Address, nullFloat(c.Latitude), nullFloat(c.Longitude)); err != nil {
			return fmt.Errorf("create customer: %w", mapPQError(err))
		}
		return nil
	})
}

func (s *PostgresStore) CreatePharmacy(ctx context.Context, p *models.Pharmacy) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertUser(ctx, tx, &p.User); err != nil {
			return err
		}
		query := `INSERT INTO pharmacies (
				user_id, pharmacy_name, license_number, address, latitude, longitude, verified, operating_hours
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
		_, err := tx.ExecContext(ctx, query,
			p.ID, p.PharmacyName, p.LicenseNumber, p.Address, p.Latitude, p.Longitude, p.Verified, p.OperatingHours,
		)
		if err != nil {
			return fmt.Errorf("create pharmacy: %w", mapPQError(err))
		}
		return nil
	})
}

const userColumns = `u.id, u.email, u.full_name, u.phone, u.user_type, u.password_hash, u.created_at`

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.email=$1`
	u := &models.User{}
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.FullName, &u.Phone, &u.UserType, &u.PasswordHash, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	query := `SELECT ` + userColumns + `, c.address, c.latitude, c.longitude
		FROM users u JOIN customers c ON c.user_id = u.id WHERE u.id=$1`
	c := &models.Customer{}
	var lat, lon sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Email, &c.FullName, &c.Phone, &c.UserType, &c.PasswordHash, &c.CreatedAt,
		&c.Address, &lat, &lon,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if lat.Valid && lon.Valid {
		c.Latitude, c.Longitude = &lat.Float64, &lon.Float64
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

const pharmacyQuery = `SELECT ` + userColumns + `,
		p.pharmacy_name, p.license_number, p.address, p.latitude, p.longitude, p.verified, p.operating_hours
	FROM users u JOIN pharmacies p ON p.user_id = u.id`

func scanPharmacy(row interface{ Scan(...any) error }) (*models.Pharmacy, error) {
	p := &models.Pharmacy{}
	err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.Phone, &p.UserType, &p.PasswordHash, &p.CreatedAt,
		&p.PharmacyName, &p.LicenseNumber, &p.Address, &p.Latitude, &p.Longitude, &p.Verified, &p.OperatingHours,
	)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *PostgresStore) GetPharmacy(ctx context.Context, id string) (*models.Pharmacy, error) {
	p, err := scanPharmacy(s.db.QueryRowContext(ctx, pharmacyQuery+` WHERE u.id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pharmacy %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pharmacy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPharmacies(ctx context.Context, verifiedOnly bool) ([]*models.Pharmacy, error) {
	query := pharmacyQuery
	if verifiedOnly {
		query += ` WHERE p.verified`
	}
	query += ` ORDER BY p.pharmacy_name, u.id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pharmacies: %w", err)
	}
	defer rows.Close()

	var res []*models.Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pharmacy: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *PostgresStore) SetPharmacyVerified(ctx context.Context, id string, verified bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pharmacies SET verified=$1 WHERE user_id=$2`, verified, id)
	if err != nil {
		return fmt.Errorf("verify pharmacy: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pharmacy %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// requests

const requestColumns = `id, customer_id, prescription_image_url, manual_medicines, radius,
	customer_latitude, customer_longitude, customer_address, status,
	accepted_quote_id, channel, agreed_price, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.MedicineRequest, error) {
	r := &models.MedicineRequest{}
	var prescription, acceptedQuote, channel sql.NullString
	var medicines []string
	err := row.Scan(
		&r.ID, &r.CustomerID, &prescription, pq.Array(&medicines), &r.Radius,
		&r.CustomerLatitude, &r.CustomerLongitude, &r.CustomerAddress, &r.Status,
		&acceptedQuote, &channel, &r.AgreedPrice, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.PrescriptionImageURL = prescription.String
	r.ManualMedicines = medicines
	r.AcceptedQuoteID = acceptedQuote.String
	r.Channel = models.Channel(channel.String)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, r *models.MedicineRequest, payloads ...[]byte) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO medicine_requests (` + requestColumns + `)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
		_, err := tx.ExecContext(ctx, query,
			r.ID, r.CustomerID, nullString(r.PrescriptionImageURL), pq.Array(r.ManualMedicines), r.Radius,
			r.CustomerLatitude, r.CustomerLongitude, r.CustomerAddress, r.Status,
			nullString(r.AcceptedQuoteID), nullString(string(r.Channel)), r.AgreedPrice, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create request: %w", mapPQError(err))
		}
		for _, p := range payloads {
			if err := createTask(ctx, tx, r.ID, p); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
		}
		return nil
	})
}

func getRequest(ctx context.Context, q queryer, id string, lock bool) (*models.MedicineRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM medicine_requests WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	r, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*models.MedicineRequest, error) {
	return getRequest(ctx, s.db, id, false)
}

func (s *PostgresStore) ListRequests(ctx context.Context, f RequestFilter) ([]*models.MedicineRequest, error) {
	var filters []string
	var args []any
	idx := 1

	query := `SELECT ` + requestColumns + ` FROM medicine_requests`
	if f.CustomerID != "" {
		filters = append(filters, fmt.Sprintf("customer_id=$%d", idx))
		args = append(args, f.CustomerID)
		idx++
	}
	if f.OpenOnly {
		filters = append(filters, fmt.Sprintf("status IN ($%d,$%d)", idx, idx+1))
		args = append(args, models.RequestStatusPending, models.RequestStatusQuoted)
		idx += 2
	}
	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var res []*models.MedicineRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// quotes

const quoteColumns = `id, request_id, pharmacy_id, delivery_price, pickup_price,
	estimated_delivery_time, notes, status, created_at, updated_at`

func scanQuote(row interface{ Scan(...any) error }) (*models.Quote, error) {
	q := &models.Quote{}
	err := row.Scan(
		&q.ID, &q.RequestID, &q.PharmacyID, &q.DeliveryPrice, &q.PickupPrice,
		&q.EstimatedDeliveryTime, &q.Notes, &q.Status, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.CreatedAt = q.CreatedAt.UTC()
	q.UpdatedAt = q.UpdatedAt.UTC()
	return q, nil
}

func listQuotes(ctx context.Context, q queryer, where, order string, arg string) ([]*models.Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE ` + where + ` ORDER BY ` + order
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	var res []*models.Quote
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		res = append(res, quote)
	}
	return res, rows.Err()
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	q, err := scanQuote(s.db.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("quote %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) ListQuotesByRequest(ctx context.Context, requestID string) ([]*models.Quote, error) {
	return listQuotes(ctx, s.db, "request_id=$1", "created_at, id", requestID)
}

func (s *PostgresStore) ListQuotesByPharmacy(ctx context.Context, pharmacyID string) ([]*models.Quote, error) {
	return listQuotes(ctx, s.db, "pharmacy_id=$1", "created_at DESC, id DESC", pharmacyID)
}

// unit of work

func (s *PostgresStore) WithRequest(ctx context.Context, requestID string, fn func(tx RequestTx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := getRequest(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		quotes, err := listQuotes(ctx, tx, "request_id=$1", "created_at, id", requestID)
		if err != nil {
			return err
		}
		return fn(&pgRequestTx{tx: tx, request: r, quotes: quotes})
	})
}

type pgRequestTx struct {
	tx      *sql.Tx
	request *models.MedicineRequest
	quotes  []*models.Quote
}

func (t *pgRequestTx) Request() *models.MedicineRequest {
	return t.request
}

func (t *pgRequestTx) Quotes() []*models.Quote {
	return t.quotes
}

func (t *pgRequestTx) UpdateRequest(ctx context.Context, r *models.MedicineRequest, from models.RequestStatus) error {
	query := `UPDATE medicine_requests SET
			status=$1, accepted_quote_id=$2, channel=$3, agreed_price=$4, updated_at=$5
		WHERE id=$6 AND status=$7`
	res, err := t.tx.ExecContext(ctx, query,
		r.Status, nullString(r.AcceptedQuoteID), nullString(string(r.Channel)), r.AgreedPrice, r.UpdatedAt,
		r.ID, from,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", mapPQError(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("request %s is no longer %s: %w", r.ID, from, apperr.ErrConflict)
	}
	return nil
}

func (t *pgRequestTx) InsertQuote(ctx context.Context, q *models.Quote) error {
	query := `INSERT INTO quotes (` + quoteColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := t.tx.ExecContext(ctx, query,
		q.ID, q.RequestID, q.PharmacyID, q.DeliveryPrice, q.PickupPrice,
		q.EstimatedDeliveryTime, q.Notes, q.Status, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quote: %w", mapPQError(err))
	}
	return nil
}

func (t *pgRequestTx) UpdateQuoteStatus(ctx context.Context, q *models.Quote, from models.QuoteStatus) error {
	query := `UPDATE quotes SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`
	res, err := t.tx.ExecContext(ctx, query, q.Status, q.UpdatedAt, q.ID, from)
	if err != nil {
		return fmt.Errorf("update quote: %w", mapPQError(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("quote %s is no longer %s: %w", q.ID, from, apperr.ErrConflict)
	}
	return nil
}

func (t *pgRequestTx) Enqueue(ctx context.Context, key string, payload []byte) error {
	if err := createTask(ctx, t.tx, key, payload); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

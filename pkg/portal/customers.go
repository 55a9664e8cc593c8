package portal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/spectraline/partner-portal/pkg/observability"
)

// Customers serves the customer and device views. Every operation is
// tenant-scoped: a distributor only ever touches rows carrying their own
// distributor_id; admins pass an empty scope and see everything.
type Customers struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewCustomers creates the customer service
func NewCustomers(db *sql.DB, logger *observability.Logger) *Customers {
	return &Customers{db: db, logger: logger}
}

var customerSortFields = map[string]string{
	"company_name": "company_name",
	"status":       "status",
	"city":         "city",
	"country":      "country",
	"created_at":   "created_at",
}

const customerColumns = `id, distributor_id, company_name, COALESCE(contact_name, ''), COALESCE(contact_email, ''), COALESCE(contact_phone, ''), COALESCE(address_line1, ''), COALESCE(address_line2, ''), COALESCE(city, ''), COALESCE(country, ''), status, COALESCE(internal_notes, ''), COALESCE(created_by, ''), created_at, updated_at`

// List returns the scope's customers matching the filter
func (c *Customers) List(ctx context.Context, scope Scope, filter ListFilter) ([]Customer, error) {
	query := strings.Builder{}
	query.WriteString("SELECT " + customerColumns + " FROM customers WHERE 1=1")

	args := make([]interface{}, 0)
	argIndex := 1

	if !scope.Admin {
		args = append(args, scope.DistributorID)
		query.WriteString(fmt.Sprintf(" AND distributor_id = $%d", argIndex))
		argIndex++
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		argIndex++
	}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query.WriteString(fmt.Sprintf(" AND (company_name ILIKE $%d OR contact_name ILIKE $%d)", argIndex, argIndex))
		argIndex++
	}

	order, err := sortClause(customerSortFields, filter, "company_name", false)
	if err != nil {
		return nil, err
	}
	query.WriteString(order)

	args = append(args, filter.limit(), filter.Offset)
	query.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1))

	rows, err := c.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]Customer, 0)
	for rows.Next() {
		var cust Customer
		if err := scanCustomer(rows, &cust); err != nil {
			return nil, err
		}
		customers = append(customers, cust)
	}
	return customers, rows.Err()
}

// Get fetches one customer within the scope
func (c *Customers) Get(ctx context.Context, scope Scope, id string) (*Customer, error) {
	query := "SELECT " + customerColumns + " FROM customers WHERE id = $1"
	args := []interface{}{id}
	if !scope.Admin {
		query += " AND distributor_id = $2"
		args = append(args, scope.DistributorID)
	}

	var cust Customer
	err := scanCustomer(c.db.QueryRowContext(ctx, query, args...), &cust)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cust, nil
}

// Create inserts a customer under the scope's tenant
func (c *Customers) Create(ctx context.Context, scope Scope, cust *Customer) error {
	if cust.ID == "" {
		cust.ID = uuid.NewString()
	}
	if cust.Status == "" {
		cust.Status = CustomerProspect
	}
	if !scope.Admin {
		cust.DistributorID = scope.DistributorID
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO customers (id, distributor_id, company_name, contact_name, contact_email,
			contact_phone, address_line1, address_line2, city, country, status,
			internal_notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`, cust.ID, cust.DistributorID, cust.CompanyName, cust.ContactName, cust.ContactEmail,
		cust.ContactPhone, cust.AddressLine1, cust.AddressLine2, cust.City, cust.Country,
		cust.Status, cust.InternalNotes, scope.UserID)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// Update rewrites a customer's mutable fields within the scope. Zero
// affected rows is a tenant or row-level-security block.
func (c *Customers) Update(ctx context.Context, scope Scope, cust *Customer) error {
	query := `
		UPDATE customers SET company_name = $1, contact_name = $2, contact_email = $3,
			contact_phone = $4, address_line1 = $5, address_line2 = $6, city = $7,
			country = $8, status = $9, internal_notes = $10, updated_at = NOW()
		WHERE id = $11
	`
	args := []interface{}{
		cust.CompanyName, cust.ContactName, cust.ContactEmail, cust.ContactPhone,
		cust.AddressLine1, cust.AddressLine2, cust.City, cust.Country,
		cust.Status, cust.InternalNotes, cust.ID,
	}
	if !scope.Admin {
		query += " AND distributor_id = $12"
		args = append(args, scope.DistributorID)
	}

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPermissionDenied
	}
	return nil
}

// Delete removes a customer within the scope. Device cleanup is delegated
// to the store's referential rules.
func (c *Customers) Delete(ctx context.Context, scope Scope, id string) error {
	query := "DELETE FROM customers WHERE id = $1"
	args := []interface{}{id}
	if !scope.Admin {
		query += " AND distributor_id = $2"
		args = append(args, scope.DistributorID)
	}

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPermissionDenied
	}
	return nil
}

const deviceColumns = `id, customer_id, product, serial_number, COALESCE(firmware, ''), installed_at, created_at`

// ListDevices returns a customer's devices. The customer is fetched first
// so tenant scoping applies before any device row is touched.
func (c *Customers) ListDevices(ctx context.Context, scope Scope, customerID string) ([]Device, error) {
	if _, err := c.Get(ctx, scope, customerID); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE customer_id = $1 ORDER BY installed_at DESC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.Product, &d.SerialNumber,
			&d.Firmware, &d.InstalledAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// AddDevice registers a device under a customer within the scope
func (c *Customers) AddDevice(ctx context.Context, scope Scope, device *Device) error {
	if _, err := c.Get(ctx, scope, device.CustomerID); err != nil {
		return err
	}
	if device.ID == "" {
		device.ID = uuid.NewString()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO devices (id, customer_id, product, serial_number, firmware, installed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, device.ID, device.CustomerID, device.Product, device.SerialNumber,
		device.Firmware, device.InstalledAt)
	if err != nil {
		return fmt.Errorf("failed to add device: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(row scanner, cust *Customer) error {
	err := row.Scan(
		&cust.ID, &cust.DistributorID, &cust.CompanyName, &cust.ContactName,
		&cust.ContactEmail, &cust.ContactPhone, &cust.AddressLine1, &cust.AddressLine2,
		&cust.City, &cust.Country, &cust.Status, &cust.InternalNotes,
		&cust.CreatedBy, &cust.CreatedAt, &cust.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to scan customer: %w", err)
	}
	return nil
}

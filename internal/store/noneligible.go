package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NonEligibleEmployee is one row of the non-eligible register. Created once
// per employee whose address cannot be shared through the provider.
type NonEligibleEmployee struct {
	EmployeeEmail string
	EmployeeName  string
	CompanyName   string
	Reason        string
	CreatedAt     time.Time
}

// NonEligibleStore is the append-only register of non-eligible employees.
type NonEligibleStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// Register inserts the employee if absent. A duplicate key means "already
// registered" and reports inserted=false, not an error.
func (n *NonEligibleStore) Register(ctx context.Context, emp *NonEligibleEmployee) (inserted bool, err error) {
	result, err := n.db.ExecContext(ctx,
		`INSERT INTO non_eligible_employees
		   (employee_email, employee_name, company_name, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(employee_email) DO NOTHING`,
		emp.EmployeeEmail, emp.EmployeeName, emp.CompanyName, emp.Reason,
		n.nowFunc().Unix())
	if err != nil {
		return false, fmt.Errorf("store: registering non-eligible %s: %w", emp.EmployeeEmail, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: registering non-eligible %s: rows affected: %w", emp.EmployeeEmail, err)
	}

	return rows > 0, nil
}

// List returns all registered non-eligible employees, newest first.
func (n *NonEligibleStore) List(ctx context.Context) ([]NonEligibleEmployee, error) {
	rows, err := n.db.QueryContext(ctx,
		`SELECT employee_email, employee_name, company_name, reason, created_at
		   FROM non_eligible_employees ORDER BY created_at DESC, employee_email`)
	if err != nil {
		return nil, fmt.Errorf("store: listing non-eligible employees: %w", err)
	}
	defer rows.Close()

	var result []NonEligibleEmployee

	for rows.Next() {
		var (
			emp       NonEligibleEmployee
			createdAt int64
		)

		if err := rows.Scan(&emp.EmployeeEmail, &emp.EmployeeName,
			&emp.CompanyName, &emp.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scanning non-eligible row: %w", err)
		}

		emp.CreatedAt = time.Unix(createdAt, 0).UTC()
		result = append(result, emp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating non-eligible rows: %w", err)
	}

	return result, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Role is one of the four enumerated tenant-membership roles.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleSeller        Role = "seller"
	RoleSupplier      Role = "supplier"
	RolePlatformAdmin Role = "platform-admin"
)

// MembershipStatus is the lifecycle state of a tenant membership.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
	MembershipInvited   MembershipStatus = "invited"
)

// TenantMembership associates a user with a tenant under a role.
type TenantMembership struct {
	ID        string
	UserID    string
	TenantID  string
	Role      Role
	Status    MembershipStatus
	CreatedAt time.Time
}

// EnsureMembership inserts a customer-role active row for (userID, tenantID);
// on conflict with the (user_id, tenant_id, role) uniqueness constraint it is
// a no-op. Only the customer role may be auto-created by any flow; every
// caller in this codebase passes RoleCustomer. It never upgrades or
// downgrades an existing row's role or status, leaving it untouched even if
// it is "invited".
func (c *Conn) EnsureMembership(ctx context.Context, id, userID, tenantID string, now time.Time) error {
	_, err := c.exec(ctx, `
		insert into tenant_memberships (id, user_id, tenant_id, role, status, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (user_id, tenant_id, role) do nothing;
	`, id, userID, tenantID, string(RoleCustomer), string(MembershipActive), now)
	if err != nil {
		return fmt.Errorf("store: ensure membership: %w", err)
	}
	return nil
}

// ListMemberships returns every tenant membership a user holds, used by the
// GET /api/memberships endpoint.
func (c *Conn) ListMemberships(ctx context.Context, userID string) ([]TenantMembership, error) {
	rows, err := c.query(ctx, `
		select id, user_id, tenant_id, role, status, created_at
		from tenant_memberships where user_id = $1;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list memberships: %w", err)
	}
	defer rows.Close()

	var out []TenantMembership
	for rows.Next() {
		var m TenantMembership
		var role, status string
		if err := rows.Scan(&m.ID, &m.UserID, &m.TenantID, &role, &status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan membership: %w", err)
		}
		m.Role, m.Status = Role(role), MembershipStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMembershipsAtTenant returns the roles a user holds at a specific
// tenant, used by the admin-audience JWT's "roles" claim.
func (c *Conn) ListMembershipsAtTenant(ctx context.Context, userID, tenantID string) ([]TenantMembership, error) {
	all, err := c.ListMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []TenantMembership
	for _, m := range all {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	return out, nil
}

// OldestNonCustomerMembership returns the oldest active membership whose role
// is not "customer", used to populate the admin JWT's primaryTenantId claim.
// It returns ErrNotFound when the user holds only customer memberships.
func (c *Conn) OldestNonCustomerMembership(ctx context.Context, userID string) (TenantMembership, error) {
	row := c.queryRow(ctx, `
		select id, user_id, tenant_id, role, status, created_at
		from tenant_memberships
		where user_id = $1 and role <> $2 and status = $3
		order by created_at asc
		limit 1;
	`, userID, string(RoleCustomer), string(MembershipActive))

	var m TenantMembership
	var role, status string
	err := row.Scan(&m.ID, &m.UserID, &m.TenantID, &role, &status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return TenantMembership{}, ErrNotFound
	}
	if err != nil {
		return TenantMembership{}, fmt.Errorf("store: scan oldest non-customer membership: %w", err)
	}
	m.Role, m.Status = Role(role), MembershipStatus(status)
	return m, nil
}

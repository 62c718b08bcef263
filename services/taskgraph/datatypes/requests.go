// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"
)

const (
	// MaxTitleLength bounds task titles.
	MaxTitleLength = 200

	// MaxDescriptionLength bounds task descriptions.
	MaxDescriptionLength = 4000

	// MaxDependenciesPerTask bounds a single dependency patch.
	MaxDependenciesPerTask = 500
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// requestValidate is the validator instance for request datatypes.
// Field names in errors are reported by their JSON name.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	requestValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = requestValidate.RegisterValidation("duedate", validateDueDate)
}

// validateDueDate accepts RFC 3339 date-times and full dates (YYYY-MM-DD).
func validateDueDate(fl validator.FieldLevel) bool {
	_, err := ParseDueDate(fl.Field().String())
	return err == nil
}

// ParseDueDate parses a due date as either an RFC 3339 date-time or a
// full date. Full dates are interpreted as midnight UTC.
func ParseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if d, err := time.Parse(strfmt.RFC3339FullDate, s); err == nil {
		return d.UTC(), nil
	}
	dt, err := strfmt.ParseDateTime(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Time(dt).UTC(), nil
}

// Validate runs struct validation on v and converts failures into a
// ValidationError keyed by JSON field name.
func Validate(v any) error {
	err := requestValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"body": err.Error()}}
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Add(fieldPath(fe), describe(fe))
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "duedate":
		return "must be a valid date (YYYY-MM-DD or RFC 3339)"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid":
		return "must be a valid identifier"
	case "hostname_rfc1123":
		return "must be a valid domain name"
	}
	return "failed " + fe.Tag() + " validation"
}

// =============================================================================
// Task Requests
// =============================================================================

// CreateTaskRequest is the body of POST /v1/tasks.
type CreateTaskRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
	DueDate     string `json:"dueDate" validate:"required,duedate"`
	Assignee    string `json:"assignee" validate:"required"`
}

// UpdateTaskRequest is the body of PUT /v1/tasks/:id. Nil fields are left
// unchanged. A non-nil Dependencies replaces the whole dependency set; an
// empty list clears it.
type UpdateTaskRequest struct {
	Title        *string     `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description  *string     `json:"description,omitempty" validate:"omitempty,max=4000"`
	Status       *TaskStatus `json:"status,omitempty"`
	DueDate      *string     `json:"dueDate,omitempty" validate:"omitempty,duedate"`
	Assignee     *string     `json:"assignee,omitempty" validate:"omitempty,min=1"`
	Dependencies *[]string   `json:"dependencies,omitempty"`
}

// Validate checks field formats. Status is validated here rather than with
// a tag so the error names the accepted values.
func (r *UpdateTaskRequest) Validate() error {
	verr := &ValidationError{}
	if err := Validate(r); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			verr = ve
		}
	}
	if r.Status != nil && !r.Status.Valid() {
		verr.Add("status", "must be one of: pending, in-progress, completed")
	}
	if r.Dependencies != nil && len(*r.Dependencies) > MaxDependenciesPerTask {
		verr.Add("dependencies", "too many dependencies")
	}
	return verr.OrNil()
}

// TouchesPlanning reports whether the patch edits fields reserved for
// managers and admins.
func (r *UpdateTaskRequest) TouchesPlanning() bool {
	return r.Title != nil || r.DueDate != nil || r.Assignee != nil || r.Dependencies != nil
}

// AddDependencyRequest is the body of POST /v1/tasks/:id/dependencies.
type AddDependencyRequest struct {
	DependentTaskID string `json:"dependentTaskId" validate:"required"`
}

// CheckDependenciesRequest is the body of POST /v1/tasks/:id/check-dependencies.
type CheckDependenciesRequest struct {
	Dependencies []string `json:"dependencies" validate:"max=500"`
}

// CheckDependenciesResponse reports whether the proposed set would close
// a cycle, and the cycle (as titles) if so.
type CheckDependenciesResponse struct {
	HasCircular bool     `json:"hasCircular"`
	Path        []string `json:"path,omitempty"`
}

// =============================================================================
// Tenant And Identity Requests
// =============================================================================

// ProvisionTenantRequest is the body of POST /v1/tenants.
type ProvisionTenantRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	Domain        string `json:"domain" validate:"required,hostname_rfc1123"`
	AdminName     string `json:"adminName" validate:"required,max=200"`
	AdminEmail    string `json:"adminEmail" validate:"required,email"`
	AdminPassword string `json:"adminPassword" validate:"required,min=6,max=128"`
}

// UpdateTenantRequest is the body of PUT /v1/tenants/:id.
type UpdateTenantRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Domain *string `json:"domain,omitempty" validate:"omitempty,hostname_rfc1123"`
}

// RegisterRequest is the body of POST /v1/auth/register. Without a
// TenantID a new tenant is created for the user.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	TenantID string `json:"tenantId" validate:"omitempty,uuid"`
}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CreateUserRequest is the body of POST /v1/users.
type CreateUserRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Role     Role   `json:"role" validate:"required,oneof=member manager admin"`
}

// AuthResponse is returned by registration, login and tenant provisioning.
type AuthResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      PublicUser `json:"user"`
	Tenant    *Tenant    `json:"tenant,omitempty"`
}

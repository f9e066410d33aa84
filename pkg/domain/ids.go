package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// Typed identifiers for the registration platform. The database uses integer
// keys for coordinators, chapters, packages and registrations; payment
// references are opaque strings generated at purchase initiation.

type CoordinatorID int64

func (id CoordinatorID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id CoordinatorID) IsZero() bool { return id == 0 }

type ChapterID int64

func (id ChapterID) String() string { return strconv.FormatInt(int64(id), 10) }

type PackageID int64

func (id PackageID) String() string { return strconv.FormatInt(int64(id), 10) }

type RegistrationID int64

func (id RegistrationID) String() string { return strconv.FormatInt(int64(id), 10) }

// PaymentReference identifies a single purchase attempt. It is the idempotency
// key for the whole purchase lifecycle: every retry or duplicate delivery of a
// payment confirmation carries the same reference.
type PaymentReference string

func (r PaymentReference) String() string { return string(r) }

func (r PaymentReference) IsZero() bool { return r == "" }

// NewPaymentReference generates a globally unique payment reference.
// The prefix keeps references recognizable in gateway dashboards.
func NewPaymentReference() PaymentReference {
	return PaymentReference("SLOTS-" + uuid.NewString())
}

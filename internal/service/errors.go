package service

import (
	"context"
	"fmt"

	"overture-lists/internal/logger"
	"overture-lists/internal/overture"
	"overture-lists/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// Kind：对调用方可见的失败分类
type Kind string

const (
	KindValidation        Kind = "validation"
	KindDuplicate         Kind = "duplicate"
	KindEmptyList         Kind = "empty_list"
	KindMappingConflict   Kind = "mapping_conflict"
	KindSelfRelationship  Kind = "self_relationship"
	KindNotFound          Kind = "not_found"
	KindSourceUnavailable Kind = "source_unavailable"
	KindInternal          Kind = "internal"
)

// Error：服务层唯一的错误类型
// 约束：不暴露底层存储或驱动错误；cause 仅用于日志，不参与 errors.Is/As 链
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newError(k Kind, field, msg string) *Error { return &Error{Kind: k, Field: field, Msg: msg} }

// KindOf：非服务错误一律视为 internal
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// translate：把存储层与数据源错误归入对外分类
func translate(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return &Error{Kind: KindValidation, Field: fe.Field(), Msg: fmt.Sprintf("failed %q rule", fe.Tag()), cause: err}
	}
	field, detail := store.FieldOf(err), store.DetailOf(err)
	wrap := func(k Kind, msg string) error {
		if detail != "" {
			msg += ": " + detail
		}
		return &Error{Kind: k, Field: field, Msg: msg, cause: err}
	}
	switch {
	case errors.Is(err, store.ErrEmptyList):
		return wrap(KindEmptyList, "a list must contain at least one member")
	case errors.Is(err, store.ErrDuplicateList):
		return wrap(KindDuplicate, "a list with this name and type already exists")
	case errors.Is(err, store.ErrDuplicateRelationship):
		return wrap(KindDuplicate, "this relationship already exists")
	case errors.Is(err, store.ErrDuplicateMember):
		return wrap(KindDuplicate, "member already present in list")
	case errors.Is(err, store.ErrMappingConflict):
		return wrap(KindMappingConflict, "account and division must map one to one")
	case errors.Is(err, store.ErrSelfRelationship):
		return wrap(KindSelfRelationship, "a division cannot relate to itself")
	case errors.Is(err, store.ErrNotFound):
		return wrap(KindNotFound, "record not found")
	case errors.Is(err, store.ErrInvalidListType):
		return wrap(KindValidation, "list type must be division or client")
	case errors.Is(err, store.ErrInvalidRelationshipType):
		return wrap(KindValidation, "relationship type must be reports_to or collaborates_with")
	case errors.Is(err, store.ErrMixedMembers):
		return wrap(KindValidation, "member kind does not match list type")
	case errors.Is(err, store.ErrInvalid):
		return wrap(KindValidation, "invalid input")
	case errors.Is(err, overture.ErrSourceUnavailable):
		return &Error{Kind: KindSourceUnavailable, Msg: "boundary dataset is unavailable", cause: err}
	case errors.Is(err, overture.ErrDivisionNotFound):
		return &Error{Kind: KindNotFound, Field: "division_id", Msg: "division not found in dataset", cause: err}
	case errors.Is(err, overture.ErrGeometryNotFound):
		return &Error{Kind: KindNotFound, Field: "geometry", Msg: "no geometry for division", cause: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindSourceUnavailable, Msg: "operation cancelled", cause: err}
	}
	logger.L().Error("service_internal_error", "err", err)
	return &Error{Kind: KindInternal, Msg: "internal error", cause: err}
}

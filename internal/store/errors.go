package store

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound                = errors.New("store: record not found")
	ErrInvalid                 = errors.New("store: invalid input")
	ErrEmptyList               = errors.New("store: list must contain at least one member")
	ErrInvalidListType         = errors.New("store: list type must be 'division' or 'client'")
	ErrMixedMembers            = errors.New("store: member kind does not match list type")
	ErrDuplicateList           = errors.New("store: a list with this name and type already exists")
	ErrDuplicateMember         = errors.New("store: member already present in list")
	ErrMappingConflict         = errors.New("store: account or division already mapped to a different counterpart")
	ErrSelfRelationship        = errors.New("store: parent and child division cannot be the same")
	ErrDuplicateRelationship   = errors.New("store: relationship already exists")
	ErrInvalidRelationshipType = errors.New("store: relationship type must be 'reports_to' or 'collaborates_with'")
)

// ConstraintError：约束违例的结构化描述
// 约束：Unwrap 返回 Kind（哨兵错误），调用方以 errors.Is(err, ErrDuplicateList) 等方式分类；底层驱动错误仅保存在 Cause
type ConstraintError struct {
	Kind   error
	Table  string
	Field  string
	Detail string
	Cause  error
}

func (e *ConstraintError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		if e.Table != "" {
			msg += " [" + e.Table + "." + e.Field + "]"
		} else {
			msg += " [" + e.Field + "]"
		}
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConstraintError) Unwrap() error { return e.Kind }

func constraint(kind error, table, field, detail string) *ConstraintError {
	return &ConstraintError{Kind: kind, Table: table, Field: field, Detail: detail}
}

// FieldOf：提取约束冲突的字段名，非约束错误返回空串
func FieldOf(err error) string {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Field
	}
	return ""
}

// DetailOf：约束冲突的补充说明（不含驱动原文）
func DetailOf(err error) string {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Detail
	}
	return ""
}

var constraintRe = regexp.MustCompile(`(UNIQUE|CHECK|FOREIGN KEY|NOT NULL|PRIMARY KEY) constraint failed(?:: ([^()]+))?`)

// classify：把 SQLite 约束错误翻译为 ConstraintError；其它错误原样返回
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return err
	}
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return err
	}
	m := constraintRe.FindStringSubmatch(se.Error())
	if m == nil {
		return err
	}
	target := strings.TrimSpace(m[2])
	switch m[1] {
	case "UNIQUE", "PRIMARY KEY":
		table, field := splitTarget(target)
		return &ConstraintError{Kind: uniqueKind(table), Table: table, Field: field, Cause: err}
	case "CHECK":
		kind := ErrInvalid
		table, field := "", target
		switch target {
		case "chk_relationship_not_self":
			kind, table, field = ErrSelfRelationship, "relationships", "child_division_id"
		case "chk_relationship_type":
			kind, table, field = ErrInvalidRelationshipType, "relationships", "relationship_type"
		case "chk_list_type":
			kind, table, field = ErrInvalidListType, "lists", "type"
		}
		return &ConstraintError{Kind: kind, Table: table, Field: field, Cause: err}
	case "FOREIGN KEY":
		return &ConstraintError{Kind: ErrNotFound, Detail: "referenced record does not exist", Cause: err}
	case "NOT NULL":
		table, field := splitTarget(target)
		return &ConstraintError{Kind: ErrInvalid, Table: table, Field: field, Cause: err}
	}
	return err
}

// splitTarget："lists.hash" → (lists, hash)；多列唯一键合并列名
func splitTarget(target string) (string, string) {
	if target == "" {
		return "", ""
	}
	var table string
	var fields []string
	for _, part := range strings.Split(target, ",") {
		part = strings.TrimSpace(part)
		if i := strings.IndexByte(part, '.'); i >= 0 {
			table = part[:i]
			fields = append(fields, part[i+1:])
		} else {
			fields = append(fields, part)
		}
	}
	return table, strings.Join(fields, ",")
}

func uniqueKind(table string) error {
	switch table {
	case "lists":
		return ErrDuplicateList
	case "list_divisions", "list_clients":
		return ErrDuplicateMember
	case "crm_mappings":
		return ErrMappingConflict
	case "relationships":
		return ErrDuplicateRelationship
	}
	return ErrInvalid
}

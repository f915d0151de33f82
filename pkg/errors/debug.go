package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for logs, including Postgres diagnostics
// from either pgx or lib/pq.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	HTTPStatus int      `json:"http_status,omitempty"`
	Retryable  bool     `json:"retryable,omitempty"`
	Chain      []string `json:"chain,omitempty"`
	PG         *PGInfo  `json:"pg,omitempty"`
}

type PGInfo struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), PG: pgInfo(err)}
	if typed := As(err); typed != nil {
		meta := MetadataFor(typed.Code())
		d.Code, d.HTTPStatus, d.Retryable = typed.Code(), meta.HTTPStatus, meta.Retryable
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}

func pgInfo(err error) *PGInfo {
	if pgx := (*pgconn.PgError)(nil); errors.As(err, &pgx) {
		return &PGInfo{Code: pgx.Code, Constraint: pgx.ConstraintName, Table: pgx.TableName, Detail: pgx.Detail}
	}
	if pqe := (*pq.Error)(nil); errors.As(err, &pqe) {
		return &PGInfo{Code: string(pqe.Code), Constraint: pqe.Constraint, Table: pqe.Table, Detail: pqe.Detail}
	}
	return nil
}

// Fields is the log-field form of the dump; empty parts are left out.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error_chain": d.Chain}
	if d.Code != "" {
		fields["error_code"] = d.Code
		fields["retryable"] = d.Retryable
	}
	if d.PG != nil {
		fields["pg_code"] = d.PG.Code
		fields["pg_constraint"] = d.PG.Constraint
		fields["pg_table"] = d.PG.Table
		fields["pg_detail"] = d.PG.Detail
	}
	return fields
}

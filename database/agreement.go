package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/weavedata/weave/internal/apierror"
	"github.com/weavedata/weave/internal/query"
	"github.com/weavedata/weave/model"
)

const agreementColumns = `agreement_id, negotiation_id, provider_agent_id, consumer_agent_id, asset_id,
		policy, contract_signing, contract_start, contract_end`

func (d *Datasource) GetAgreement(ctx context.Context, id string) (*model.ContractAgreement, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM weave.contract_agreements WHERE agreement_id = $1`, agreementColumns), id)
	return scanAgreement(row)
}

func (d *Datasource) QueryAgreements(ctx context.Context, spec query.Spec) ([]*model.ContractAgreement, error) {
	built, sortable, err := query.BuildSQL(spec, agreementQueryColumns, 1)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Invalid agreement query", err)
	}
	if !sortable {
		return nil, nil
	}

	stmt := fmt.Sprintf(`SELECT %s FROM weave.contract_agreements`, agreementColumns)
	if built.Where != "" {
		stmt += " WHERE " + built.Where
	}
	if built.OrderBy != "" {
		stmt += " ORDER BY " + built.OrderBy
	} else {
		stmt += " ORDER BY contract_signing ASC, agreement_id ASC"
	}
	stmt += " " + built.Paging

	rows, err := d.Conn.QueryContext(ctx, stmt, built.Args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to query agreements", err)
	}
	defer rows.Close()

	var out []*model.ContractAgreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read agreements", err)
	}
	return out, nil
}

func scanAgreement(row rowScanner) (*model.ContractAgreement, error) {
	a := model.ContractAgreement{}
	var policy []byte
	err := row.Scan(
		&a.AgreementID, &a.NegotiationID, &a.ProviderAgentID, &a.ConsumerAgentID, &a.AssetID,
		&policy, &a.ContractSigning, &a.ContractStart, &a.ContractEnd,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Agreement not found", nil)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan agreement", err)
	}
	if len(policy) > 0 {
		a.Policy = json.RawMessage(policy)
	}
	return &a, nil
}

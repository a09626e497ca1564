package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"

	"github.com/weavedata/weave/internal/apierror"
	"github.com/weavedata/weave/internal/query"
	"github.com/weavedata/weave/model"
)

const negotiationColumns = `negotiation_id, type, state, state_count, state_timestamp, correlation_id,
		counter_party_id, counter_party_address, protocol, contract_offers, contract_agreement,
		error_detail, decline_reason, created_at`

// SaveNegotiation upserts the negotiation and releases the lease this owner
// holds on it, in one atomic statement. Leases held by other owners are left
// untouched. The denormalized agreement row is written in the same
// transaction once the negotiation carries an agreement.
func (d *Datasource) SaveNegotiation(ctx context.Context, n *model.Negotiation) error {
	ctx, span := otel.Tracer("negotiation.store").Start(ctx, "Saving negotiation to db")
	defer span.End()

	offersJSON, err := json.Marshal(n.ContractOffers)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal contract offers", err)
	}
	var agreementJSON []byte
	if n.ContractAgreement != nil {
		agreementJSON, err = json.Marshal(n.ContractAgreement)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal agreement", err)
		}
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO weave.contract_negotiations
			(negotiation_id, type, state, state_count, state_timestamp, correlation_id,
			 counter_party_id, counter_party_address, protocol, contract_offers, contract_agreement,
			 error_detail, decline_reason, created_at, lease_owner, leased_at, lease_duration_millis)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NULL,NULL,NULL)
		ON CONFLICT (negotiation_id) DO UPDATE SET
			state = EXCLUDED.state,
			state_count = EXCLUDED.state_count,
			state_timestamp = EXCLUDED.state_timestamp,
			correlation_id = EXCLUDED.correlation_id,
			counter_party_id = EXCLUDED.counter_party_id,
			counter_party_address = EXCLUDED.counter_party_address,
			protocol = EXCLUDED.protocol,
			contract_offers = EXCLUDED.contract_offers,
			contract_agreement = EXCLUDED.contract_agreement,
			error_detail = EXCLUDED.error_detail,
			decline_reason = EXCLUDED.decline_reason,
			lease_owner = CASE WHEN contract_negotiations.lease_owner = $15 THEN NULL ELSE contract_negotiations.lease_owner END,
			leased_at = CASE WHEN contract_negotiations.lease_owner = $15 THEN NULL ELSE contract_negotiations.leased_at END,
			lease_duration_millis = CASE WHEN contract_negotiations.lease_owner = $15 THEN NULL ELSE contract_negotiations.lease_duration_millis END`,
		n.NegotiationID, n.Type, int(n.State), n.StateCount, n.StateTimestamp, n.CorrelationID,
		n.CounterPartyID, n.CounterPartyAddress, n.Protocol, offersJSON, agreementJSON,
		n.ErrorDetail, n.DeclineReason, n.CreatedAt, d.ownerID,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save negotiation", err)
	}

	if n.ContractAgreement != nil {
		a := n.ContractAgreement
		_, err = tx.ExecContext(ctx, `
			INSERT INTO weave.contract_agreements
				(agreement_id, negotiation_id, provider_agent_id, consumer_agent_id, asset_id,
				 policy, contract_signing, contract_start, contract_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (agreement_id) DO NOTHING`,
			a.AgreementID, a.NegotiationID, a.ProviderAgentID, a.ConsumerAgentID, a.AssetID,
			[]byte(a.Policy), a.ContractSigning, a.ContractStart, a.ContractEnd,
		)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save agreement", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit negotiation save", err)
	}
	return nil
}

func (d *Datasource) GetNegotiation(ctx context.Context, id string) (*model.Negotiation, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM weave.contract_negotiations WHERE negotiation_id = $1`, negotiationColumns), id)
	return d.scanNegotiationRow(row)
}

func (d *Datasource) GetNegotiationByCorrelationID(ctx context.Context, correlationID string) (*model.Negotiation, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM weave.contract_negotiations WHERE correlation_id = $1`, negotiationColumns), correlationID)
	return d.scanNegotiationRow(row)
}

// NextNegotiationsForState atomically claims up to batchSize negotiations in
// the given state whose lease is free or expired. Oldest state timestamp
// first, id as tie-break, so no entity is starved by faster-cycling peers.
func (d *Datasource) NextNegotiationsForState(ctx context.Context, state model.NegotiationState, batchSize int) ([]*model.Negotiation, error) {
	ctx, span := otel.Tracer("negotiation.store").Start(ctx, "Leasing next negotiations for state")
	defer span.End()

	now := d.clock.Now()
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		UPDATE weave.contract_negotiations
		SET lease_owner = $1, leased_at = $2, lease_duration_millis = $3
		WHERE negotiation_id IN (
			SELECT negotiation_id FROM weave.contract_negotiations
			WHERE state = $4
			  AND (lease_owner IS NULL OR leased_at + lease_duration_millis * interval '1 millisecond' < $2)
			ORDER BY state_timestamp ASC, negotiation_id ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, negotiationColumns),
		d.ownerID, now, d.leaseDuration.Milliseconds(), int(state), batchSize,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lease negotiations", err)
	}
	defer rows.Close()

	var leased []*model.Negotiation
	for rows.Next() {
		n, err := d.scanNegotiationRow(rows)
		if err != nil {
			return nil, err
		}
		leased = append(leased, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read leased negotiations", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.Slice(leased, func(i, j int) bool {
		if leased[i].StateTimestamp.Equal(leased[j].StateTimestamp) {
			return leased[i].NegotiationID < leased[j].NegotiationID
		}
		return leased[i].StateTimestamp.Before(leased[j].StateTimestamp)
	})
	return leased, nil
}

// DeleteNegotiation removes a negotiation, guarded so that in-flight
// negotiations cannot be lost.
func (d *Datasource) DeleteNegotiation(ctx context.Context, id string) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var state int
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM weave.contract_negotiations WHERE negotiation_id = $1 FOR UPDATE`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Negotiation with ID '%s' not found", id), nil)
	}
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load negotiation for delete", err)
	}
	if !model.NegotiationState(state).IsDeletable() {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Cannot delete negotiation '%s' in state %s", id, model.NegotiationState(state)), nil)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM weave.contract_negotiations WHERE negotiation_id = $1`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete negotiation", err)
	}
	return tx.Commit()
}

// QueryNegotiations runs a filter/sort/paginate query. A sort on an unknown
// field returns an empty result; callers depend on this leniency.
func (d *Datasource) QueryNegotiations(ctx context.Context, spec query.Spec) ([]*model.Negotiation, error) {
	built, sortable, err := query.BuildSQL(spec, negotiationQueryColumns, 1)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Invalid negotiation query", err)
	}
	if !sortable {
		return nil, nil
	}

	stmt := fmt.Sprintf(`SELECT %s FROM weave.contract_negotiations`, negotiationColumns)
	if built.Where != "" {
		stmt += " WHERE " + built.Where
	}
	if built.OrderBy != "" {
		stmt += " ORDER BY " + built.OrderBy
	} else {
		stmt += " ORDER BY created_at ASC, negotiation_id ASC"
	}
	stmt += " " + built.Paging

	rows, err := d.Conn.QueryContext(ctx, stmt, built.Args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to query negotiations", err)
	}
	defer rows.Close()

	var out []*model.Negotiation
	for rows.Next() {
		n, err := d.scanNegotiationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read negotiations", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Datasource) scanNegotiationRow(row rowScanner) (*model.Negotiation, error) {
	n := model.Negotiation{}
	var state int
	var offersJSON, agreementJSON []byte
	var correlationID, errorDetail, declineReason sql.NullString
	err := row.Scan(
		&n.NegotiationID, &n.Type, &state, &n.StateCount, &n.StateTimestamp, &correlationID,
		&n.CounterPartyID, &n.CounterPartyAddress, &n.Protocol, &offersJSON, &agreementJSON,
		&errorDetail, &declineReason, &n.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Negotiation not found", nil)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan negotiation", err)
	}

	n.State = model.NegotiationState(state)
	n.CorrelationID = correlationID.String
	n.ErrorDetail = errorDetail.String
	n.DeclineReason = declineReason.String
	if len(offersJSON) > 0 {
		if err := json.Unmarshal(offersJSON, &n.ContractOffers); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal contract offers", err)
		}
	}
	if len(agreementJSON) > 0 {
		if err := json.Unmarshal(agreementJSON, &n.ContractAgreement); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal agreement", err)
		}
	}
	n.SetClock(d.clock)
	return &n, nil
}

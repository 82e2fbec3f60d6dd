package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

type fakePortfolio struct {
	entries map[string][]model.PortfolioEntry
	err     error
}

func (f *fakePortfolio) GetPortfolio(ctx context.Context, clientID string, activeOnly bool) ([]model.PortfolioEntry, error) {
	var out []model.PortfolioEntry
	for _, e := range f.entries[clientID] {
		if e.Active || !activeOnly {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakePortfolio) UpsertPortfolioEntry(ctx context.Context, clientID string, e model.PortfolioEntry) error {
	if f.err != nil {
		return f.err
	}
	if f.entries == nil {
		f.entries = map[string][]model.PortfolioEntry{}
	}
	for i, cur := range f.entries[clientID] {
		if cur.ProductID == e.ProductID && cur.LaneID == e.LaneID {
			f.entries[clientID][i] = e
			return nil
		}
	}
	f.entries[clientID] = append(f.entries[clientID], e)
	return nil
}

func TestPortfolioAddRemoveList(t *testing.T) {
	s := &fakePortfolio{}
	cmd, out := testCmd()

	require.NoError(t, setEntry(cmd, s, "acme", "8517.12.00", "CN-US", true))
	require.NoError(t, setEntry(cmd, s, "acme", "8471.30.01", "MX-US", true))
	require.NoError(t, setEntry(cmd, s, "acme", "8517.12.00", "CN-US", false))
	assert.Contains(t, out.String(), "acme: 8517.12.00/CN-US inactive")

	active, err := s.GetPortfolio(context.Background(), "acme", true)
	require.NoError(t, err)
	assert.Equal(t, []model.PortfolioEntry{{ProductID: "8471.30.01", LaneID: "MX-US", Active: true}}, active)

	out.Reset()
	require.NoError(t, listEntries(cmd, s, "acme"))
	assert.Equal(t, "8517.12.00/CN-US inactive\n8471.30.01/MX-US active\n", out.String())
}

func TestPortfolioListEmpty(t *testing.T) {
	cmd, out := testCmd()
	require.NoError(t, listEntries(cmd, &fakePortfolio{}, "globex"))
	assert.Contains(t, out.String(), "globex has no portfolio entries")
}

func TestPortfolioAddPropagatesStoreError(t *testing.T) {
	cmd, out := testCmd()
	err := setEntry(cmd, &fakePortfolio{err: errors.New("upsert portfolio entry: conn refused")}, "acme", "8517.12.00", "CN-US", true)
	assert.ErrorContains(t, err, "conn refused")
	assert.Empty(t, out.String())
}

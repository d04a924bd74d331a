package journal_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quantarc/engine/internal/journal"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/symbol"
)

var (
	testDSN     string
	pgContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	if os.Getenv("QUANTARC_SKIP_DOCKER_TESTS") != "" {
		os.Exit(0)
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "engine"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	host, err := container.Host(ctx)
	if err == nil {
		mapped, portErr := container.MappedPort(ctx, "5432/tcp")
		err = portErr
		if err == nil {
			testDSN = fmt.Sprintf("postgres://postgres:secret@%s:%s/engine?sslmode=disable", host, mapped.Port())
			err = journal.Apply(ctx, testDSN)
		}
	}

	exitCode := 0
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal integration tests skipped: %v\n", err)
	} else {
		exitCode = m.Run()
	}

	_ = pgContainer.Terminate(ctx)
	os.Exit(exitCode)
}

func newTicket(t *testing.T, id int, qty int64) (*orders.Ticket, symbol.Symbol) {
	t.Helper()
	sid, err := symbol.NewEquity("AAPL", 1)
	require.NoError(t, err)
	sym := symbol.New(sid, "AAPL")
	order := &orders.Order{
		ID:         id,
		Symbol:     sym,
		Quantity:   decimal.NewFromInt(qty),
		Type:       orders.TypeMarket,
		Status:     orders.StatusNew,
		CreatedUtc: time.Date(2024, 3, 8, 14, 31, 0, 0, time.UTC),
	}
	return orders.NewTicket(order), sym
}

func TestRecordAndRecoverOpenOrders(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(ctx, testDSN, "deploy-recover")
	require.NoError(t, err)
	defer j.Close()

	ticket, _ := newTicket(t, 1, 10)
	submitted := orders.NewEvent(1, time.Date(2024, 3, 8, 14, 31, 0, 0, time.UTC), orders.StatusSubmitted, "")
	ticket.Apply(submitted)
	require.NoError(t, j.RecordEvent(ctx, submitted, ticket))

	open, err := j.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, 1, open[0].OrderID)
	require.Equal(t, "AAPL", open[0].Ticker)
	require.Equal(t, "submitted", open[0].Status)
	require.True(t, open[0].Quantity.Equal(decimal.NewFromInt(10)))
	require.Nil(t, open[0].LimitPrice)
}

func TestFilledOrdersLeaveRecoverySet(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(ctx, testDSN, "deploy-filled")
	require.NoError(t, err)
	defer j.Close()

	ticket, _ := newTicket(t, 1, 5)
	at := time.Date(2024, 3, 8, 14, 31, 0, 0, time.UTC)

	submitted := orders.NewEvent(1, at, orders.StatusSubmitted, "")
	ticket.Apply(submitted)
	require.NoError(t, j.RecordEvent(ctx, submitted, ticket))

	filled := orders.NewEvent(1, at.Add(time.Minute), orders.StatusFilled, "")
	filled.FillQuantity = decimal.NewFromInt(5)
	filled.FillPrice = decimal.RequireFromString("150.25")
	filled.FillPriceCurrency = "USD"
	filled.Fee = decimal.NewFromInt(1)
	ticket.Apply(filled)
	require.NoError(t, j.RecordEvent(ctx, filled, ticket))

	open, err := j.OpenOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestPartialFillKeepsOrderOpenWithFilledQty(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(ctx, testDSN, "deploy-partial")
	require.NoError(t, err)
	defer j.Close()

	ticket, _ := newTicket(t, 1, 10)
	at := time.Date(2024, 3, 8, 14, 31, 0, 0, time.UTC)

	submitted := orders.NewEvent(1, at, orders.StatusSubmitted, "")
	ticket.Apply(submitted)
	require.NoError(t, j.RecordEvent(ctx, submitted, ticket))

	partial := orders.NewEvent(1, at.Add(time.Minute), orders.StatusPartiallyFilled, "")
	partial.FillQuantity = decimal.NewFromInt(4)
	partial.FillPrice = decimal.RequireFromString("150")
	ticket.Apply(partial)
	require.NoError(t, j.RecordEvent(ctx, partial, ticket))

	open, err := j.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "partiallyFilled", open[0].Status)
	require.True(t, open[0].FilledQty.Equal(decimal.NewFromInt(4)))
}

func TestApplyIsIdempotent(t *testing.T) {
	require.NoError(t, journal.Apply(context.Background(), testDSN))
}

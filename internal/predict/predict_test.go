package predict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

func bars(closes ...float64) []market.Bar {
	out := make([]market.Bar, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{Time: time.Unix(int64(i)*60, 0), Close: c}
	}
	return out
}

func TestDrift(t *testing.T) {
	got, err := NewDrift(2).Predict(context.Background(), bars(10, 11, 12, 9, 13))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true, false, true}, got)
}

func TestGate(t *testing.T) {
	b := bars(1, 2, 3)
	entry := []bool{true, true, false}

	same, err := Gate(context.Background(), nil, b, entry)
	require.NoError(t, err)
	assert.Equal(t, entry, same)

	p := Func(func(context.Context, []market.Bar) ([]bool, error) { return []bool{false, true, true}, nil })
	got, err := Gate(context.Background(), p, b, entry)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, got)

	short := Func(func(context.Context, []market.Bar) ([]bool, error) { return []bool{true}, nil })
	_, err = Gate(context.Background(), short, b, entry)
	assert.True(t, errors.Is(err, ErrLength))
}

func TestDecode(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{"predictions": []any{0.9, 0.1, true}})
	require.NoError(t, err)
	got, err := decode(resp, 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, got)

	_, err = decode(resp, 4)
	assert.ErrorIs(t, err, ErrLength)

	_, err = decode(&structpb.Struct{}, 1)
	assert.Error(t, err)
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, "test")
	require.NoError(t, err)

	c.BlockReads.Inc()
	c.RecordOps.WithLabelValues("insert").Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.BlockReads))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.RecordOps.WithLabelValues("insert")))

	n, err := testutil.GatherAndCount(reg, "test_cache_block_reads_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, "dup")
	require.NoError(t, err)

	_, err = New(reg, "dup")
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	c := Nop()
	c.LogCommits.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LogCommits))
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordProviderQuery(t *testing.T) {
	ok := testutil.ToFloat64(providerQueries.WithLabelValues(ResultOK))
	failed := testutil.ToFloat64(providerQueries.WithLabelValues(ResultError))

	RecordProviderQuery(nil)
	RecordProviderQuery(errors.New("boom"))
	RecordProviderQuery(errors.New("boom"))

	assert.Equal(t, ok+1, testutil.ToFloat64(providerQueries.WithLabelValues(ResultOK)))
	assert.Equal(t, failed+2, testutil.ToFloat64(providerQueries.WithLabelValues(ResultError)))
}

func TestRecordJobAndUpsert(t *testing.T) {
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("completed"))
	RecordJob("completed", time.Now().Add(-time.Second))
	assert.Equal(t, before+1, testutil.ToFloat64(jobsTotal.WithLabelValues("completed")))

	dup := testutil.ToFloat64(marketUpserts.WithLabelValues(ResultDuplicate))
	RecordUpsert(ResultDuplicate)
	assert.Equal(t, dup+1, testutil.ToFloat64(marketUpserts.WithLabelValues(ResultDuplicate)))
}

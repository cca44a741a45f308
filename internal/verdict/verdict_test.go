package verdict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smtpverify/internal/config"
	"smtpverify/internal/verdict"
)

func TestRecordAcceptedIsTruthy(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{})
	agg.RecordAccepted("fred@example.com", "250 OK")

	v := agg.Results().Verdicts["fred@example.com"]
	assert.Equal(t, verdict.Accepted, v.Kind)
	assert.True(t, v.Truthy())
	assert.Equal(t, []string{"250 OK"}, agg.Results().PassRes)
}

func TestRecordRejectedIsNotTruthy(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{})
	agg.RecordRejected("fred@example.com")
	v := agg.Results().Verdicts["fred@example.com"]
	assert.Equal(t, verdict.Rejected, v.Kind)
	assert.False(t, v.Truthy())
}

func TestRecordGreylistedCoercesWhenConfigured(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{GreylistedConsideredValid: true})
	agg.RecordGreylisted("fred@example.com", "450 try later")
	v := agg.Results().Verdicts["fred@example.com"]
	assert.Equal(t, verdict.Accepted, v.Kind)
	assert.True(t, v.Truthy())
}

func TestRecordGreylistedStaysDistinctWhenNotConfigured(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{GreylistedConsideredValid: false})
	agg.RecordGreylisted("fred@example.com", "450 try later")
	v := agg.Results().Verdicts["fred@example.com"]
	assert.Equal(t, verdict.Greylisted, v.Kind)
	assert.False(t, v.Truthy(), "greylisted is not truthy unless coerced to Accepted")
}

func TestRecordCommFailurePolicy(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{NoCommIsValid: true})
	agg.RecordCommFailure([]string{"a@example.com", "b@example.com"}, "timeout")
	for _, addr := range []string{"a@example.com", "b@example.com"} {
		v := agg.Results().Verdicts[addr]
		assert.Equal(t, verdict.Accepted, v.Kind)
		assert.Equal(t, "timeout", v.Reason)
	}
	assert.Equal(t, "timeout", agg.Results().MailError)
}

func TestRecordConnFailurePolicy(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{NoConnIsValid: false})
	agg.RecordConnFailure([]string{"a@example.com"}, "no route")
	v := agg.Results().Verdicts["a@example.com"]
	assert.Equal(t, verdict.Rejected, v.Kind)
}

func TestApplyCatchAllDowngradesWhenNotValid(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{CatchallIsValid: false})
	agg.RecordAccepted("fred@example.com", "250 OK")
	agg.ApplyCatchAll("example.com", []string{"fred@example.com"})

	v := agg.Results().Verdicts["fred@example.com"]
	assert.Equal(t, verdict.Rejected, v.Kind)

	info := agg.Results().Domains["example.com"]
	require.NotNil(t, info.Catchall)
	assert.True(t, *info.Catchall)
}

func TestApplyCatchAllKeepsTruthyWhenValid(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{CatchallIsValid: true})
	agg.ApplyCatchAll("example.com", []string{"fred@example.com"})
	v := agg.Results().Verdicts["fred@example.com"]
	assert.Equal(t, verdict.CatchAll, v.Kind)
	assert.True(t, v.Truthy())
}

func TestApplyCatchAllIndeterminateDoesNotTouchAddresses(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{})
	agg.RecordAccepted("fred@example.com", "250 OK")
	agg.ApplyCatchAllIndeterminate("example.com")

	v := agg.Results().Verdicts["fred@example.com"]
	assert.Equal(t, verdict.Accepted, v.Kind, "indeterminate catch-all must not downgrade existing verdicts")

	info := agg.Results().Domains["example.com"]
	assert.True(t, info.CatchallIndeterminate)
	assert.Nil(t, info.Catchall)
}

func TestOrderedAddressesPreservesInsertionOrder(t *testing.T) {
	agg := verdict.NewAggregator(config.Options{})
	agg.RecordAccepted("c@example.com", "250 OK")
	agg.RecordAccepted("a@example.com", "250 OK")
	agg.RecordRejected("b@example.com")
	// Re-recording an existing address must not move its position.
	agg.RecordAccepted("c@example.com", "250 again")

	assert.Equal(t, []string{"c@example.com", "a@example.com", "b@example.com"}, agg.Results().OrderedAddresses())
}

package crawl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testRobots = `User-agent: *
Disallow: /private/
Crawl-delay: 2
`

func TestPolicyAllowed(t *testing.T) {
	policies := NewPolicies("zeroweb-bot/1.0", zap.NewNop())
	require.NoError(t, policies.Seed("example.com", testRobots))

	policy := policies.Get(context.Background(), "example.com")
	require.NotNil(t, policy)
	require.True(t, policy.Allowed("https://example.com/public/page"))
	require.False(t, policy.Allowed("https://example.com/private/secret"))
}

func TestPolicyCrawlDelay(t *testing.T) {
	policies := NewPolicies("zeroweb-bot/1.0", zap.NewNop())
	require.NoError(t, policies.Seed("example.com", testRobots))

	policy := policies.Get(context.Background(), "example.com")
	require.InDelta(t, 2.0, policy.CrawlDelay(), 1e-9)
}

func TestNilPolicyAllowsAll(t *testing.T) {
	var policy *Policy
	require.True(t, policy.Allowed("https://anything.example/whatever"))
	require.InDelta(t, DefaultCrawlDelay, policy.CrawlDelay(), 1e-9)
}

func TestPolicyCacheIsPerHost(t *testing.T) {
	policies := NewPolicies("zeroweb-bot/1.0", zap.NewNop())
	require.NoError(t, policies.Seed("a.example", "User-agent: *\nDisallow: /x/\n"))
	require.NoError(t, policies.Seed("b.example", "User-agent: *\nDisallow:\n"))

	a := policies.Get(context.Background(), "https://www.a.example/ignored")
	b := policies.Get(context.Background(), "b.example")
	require.False(t, a.Allowed("https://a.example/x/page"))
	require.True(t, b.Allowed("https://b.example/x/page"))
}

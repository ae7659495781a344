package condense

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_LabeledLines(t *testing.T) {
	b := Extract([]string{
		"Fact: the api listens on port 8000",
		"事实：项目用的是 pgvector",
		"Preference: dark mode everywhere",
		"Constraint: responses stay under 1MB",
		"Decision: ship the worker first",
	})

	assert.Equal(t, []string{"the api listens on port 8000", "项目用的是 pgvector"}, b.Facts)
	assert.Equal(t, []string{"dark mode everywhere"}, b.Preferences)
	assert.Equal(t, []string{"responses stay under 1MB"}, b.Constraints)
	assert.Equal(t, []string{"ship the worker first"}, b.Decisions)
}

func TestExtract_SplitsClausesInLabeledLines(t *testing.T) {
	b := Extract([]string{"决策：保留 /v1 前缀；不接入 LLM"})

	require.Len(t, b.Decisions, 2)
	assert.Equal(t, "保留 /v1 前缀", b.Decisions[0])
	assert.Equal(t, "不接入 LLM", b.Decisions[1])
}

func TestExtract_SentenceFallbacks(t *testing.T) {
	b := Extract([]string{
		"I prefer tabs over spaces",
		"我希望接口保持兼容",
		"I decided to keep the old schema",
		"必须使用参数化查询",
		"Must not log raw passwords",
	})

	assert.Equal(t, []string{"I prefer tabs over spaces", "我希望接口保持兼容"}, b.Preferences)
	assert.Equal(t, []string{"I decided to keep the old schema"}, b.Decisions)
	assert.Equal(t, []string{"必须使用参数化查询", "Must not log raw passwords"}, b.Constraints)
}

func TestExtract_Risks(t *testing.T) {
	b := Extract([]string{
		"踩坑：compose 里忘了挂载数据卷",
		"the worker kept getting connection refused",
		"inside the docker container it was still calling localhost",
		"CORS error on login but the server actually returned 401",
		"CORS preflight works fine now", // cors alone is not a risk
	})

	require.Len(t, b.Risks, 4)
	assert.Contains(t, b.Risks, "the worker kept getting connection refused")
	assert.Contains(t, b.Risks, "inside the docker container it was still calling localhost")
	assert.Contains(t, b.Risks, "CORS error on login but the server actually returned 401")
}

func TestExtract_Actions(t *testing.T) {
	b := Extract([]string{
		"docker compose up -d",
		"git push origin main",
		"psql -h db -U memos",
		"ls -la", // not a recognized command prefix
	})

	assert.Equal(t, []string{"docker compose up -d", "git push origin main", "psql -h db -U memos"}, b.Actions)
}

func TestExtract_FirstMatchingRuleWins(t *testing.T) {
	// A labeled decision that happens to start with a modal must land in
	// decisions, not in the constraint fallback.
	b := Extract([]string{"决策：必须先发 worker"})

	assert.Equal(t, []string{"必须先发 worker"}, b.Decisions)
	assert.Empty(t, b.Constraints)
}

func TestExtract_DedupAndEmpties(t *testing.T) {
	b := Extract([]string{
		"Fact: x equals 1",
		"Fact: x equals 1",
		"Fact: X equals 1", // case-sensitive, kept
		"",
		"   ",
		"Fact:   ",
	})

	assert.Equal(t, []string{"x equals 1", "X equals 1"}, b.Facts)
}

func TestExtract_Deterministic(t *testing.T) {
	lines := []string{
		"Fact: deploy target is fly.io",
		"我希望日志保持结构化",
		"决策：先做 L1；再做 L2",
		"docker compose logs -f api",
		"踩坑：端口被占用",
	}

	first := Extract(lines)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Extract(lines))
	}
}

func TestExtract_NothingFoundIsValid(t *testing.T) {
	b := Extract([]string{"just some chatter", "more chatter"})

	assert.Empty(t, b.Facts)
	assert.Empty(t, b.Preferences)
	assert.Empty(t, b.Constraints)
	assert.Empty(t, b.Decisions)
	assert.Empty(t, b.Risks)
	assert.Empty(t, b.Actions)
}

func TestCleanLines(t *testing.T) {
	got := CleanLines([]string{
		"[user] Fact: a",
		"[L2 score=0.931] docker ps",
		"  [agent]   ",
		"plain line",
	})

	assert.Equal(t, []string{"Fact: a", "docker ps", "plain line"}, got)
}

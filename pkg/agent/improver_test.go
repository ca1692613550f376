package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kollektiv/pkg/llm"
	"kollektiv/pkg/llm/llmtest"
)

func criterion(score int) CriterionEvaluation {
	return CriterionEvaluation{
		ArgumentsFor:         []string{"clear"},
		ArgumentsAgainst:     []string{"short"},
		Score:                score,
		RatingInterpretation: "fair",
		Justification:        "it is fine",
	}
}

func evaluationJSON(t *testing.T, score int, overall float64) string {
	t.Helper()
	eval := EvaluationResult{
		FactualAccuracy:      criterion(score),
		Relevance:            criterion(score),
		Completeness:         criterion(score),
		ClarityCoherence:     criterion(score),
		InstructionFollowing: criterion(score),
		Summary: EvaluationSummary{
			KeyStrengths:   []string{"clear"},
			KeyWeaknesses:  []string{"short"},
			SummaryComment: "ok",
			OverallScore:   overall,
		},
	}
	data, err := json.Marshal(eval)
	require.NoError(t, err)
	return string(data)
}

func TestEvaluationResultValidate(t *testing.T) {
	eval := EvaluationResult{
		FactualAccuracy:      criterion(1),
		Relevance:            criterion(5),
		Completeness:         criterion(3),
		ClarityCoherence:     criterion(4),
		InstructionFollowing: criterion(2),
		Summary:              EvaluationSummary{OverallScore: 3.2},
	}
	assert.NoError(t, eval.Validate())

	eval.Relevance.Score = 6
	eval.Summary.OverallScore = 0.5
	err := eval.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "criterion_relevance.score")
	assert.Contains(t, err.Error(), "summary.overall_score")
}

func TestJudgeRetriesOutOfRangeScores(t *testing.T) {
	backend := llmtest.NewScriptedCompleter(
		llmtest.Reply(evaluationJSON(t, 9, 3)),
		llmtest.Reply("```json\n"+evaluationJSON(t, 4, 4.5)+"\n```"),
	)
	judge := NewJudge(NewEngine(backend, testSystem(), nil))

	eval, err := judge.Evaluate(context.Background(), "user: write a poem\n\nassistant: roses")
	require.NoError(t, err)
	assert.Equal(t, 4, eval.Completeness.Score)
	assert.Equal(t, 4.5, eval.Summary.OverallScore)

	calls := backend.Calls()
	require.Len(t, calls, 2)
	first := calls[0]
	assert.Contains(t, first.Messages[0].Content, "<message_history>\nuser: write a poem\n\nassistant: roses\n</message_history>")
	assert.Equal(t, llm.RoleUser, first.Messages[1].Role)
	assert.NotEmpty(t, first.Options.SchemaHint)
	assert.Contains(t, calls[1].Messages[3].Content, "score must be between 1 and 5")
}

func TestImproverRevisesAndAppendsCritique(t *testing.T) {
	backend := llmtest.NewScriptedCompleter(
		llmtest.Reply("draft one"),
		llmtest.Reply(evaluationJSON(t, 3, 3)),
		llmtest.Reply("draft two"),
	)
	e := NewEngine(backend, testSystem(), nil)
	im := NewImprover(e, nil, 1)

	history := llm.NewHistory(llm.NewSystemMessage("writer"))
	reply, err := im.Run(context.Background(), Request{Message: "write", History: &history})
	require.NoError(t, err)
	assert.Equal(t, "draft two", reply.Text)

	msgs := history.Messages()
	assert.Equal(t, []llm.Role{
		llm.RoleSystem, llm.RoleUser, llm.RoleAssistant,
		llm.RoleSystem, llm.RoleUser, llm.RoleAssistant,
	}, roles(msgs))
	assert.Contains(t, msgs[3].Content, `"overall_score": 3`)
	assert.Equal(t, reviseRequest, msgs[4].Content)

	// the judge sees the transcript of the first draft only
	judgeCall := backend.Calls()[1]
	assert.Contains(t, judgeCall.Messages[0].Content, "assistant: draft one")
	assert.NotContains(t, judgeCall.Messages[0].Content, "draft two")
}

func TestImproverKeepsLastResultOnJudgeError(t *testing.T) {
	backend := llmtest.NewScriptedCompleter(
		llmtest.Reply("draft one"),
		llmtest.Reply(evaluationJSON(t, 3, 3)),
		llmtest.Reply("draft two"),
		// the second judge call runs out of script
	)
	e := NewEngine(backend, testSystem(), nil)
	im := NewImprover(e, nil, 3)

	history := llm.NewHistory()
	reply, err := im.Run(context.Background(), Request{Message: "write", History: &history})
	require.NoError(t, err)
	assert.Equal(t, "draft two", reply.Text)

	last, ok := history.Last()
	require.True(t, ok)
	assert.Equal(t, "draft two", last.Content)
}

func TestImproverFailedRevisionLeavesNoTrace(t *testing.T) {
	backend := llmtest.NewScriptedCompleter(
		llmtest.Reply("draft one"),
		llmtest.Reply(evaluationJSON(t, 3, 3)),
		llmtest.Fail(errors.New("backend down")),
	)
	im := NewImprover(NewEngine(backend, testSystem(), nil), nil, 2)

	history := llm.NewHistory(llm.NewSystemMessage("writer"))
	reply, err := im.Run(context.Background(), Request{Message: "write", History: &history})
	require.NoError(t, err)
	assert.Equal(t, "draft one", reply.Text)

	assert.Equal(t, []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant}, roles(history.Messages()))
	last, _ := history.Last()
	assert.Equal(t, "draft one", last.Content)
}

func TestImproverInitialFailureIsReturned(t *testing.T) {
	backend := llmtest.NewScriptedCompleter()
	im := NewImprover(NewEngine(backend, testSystem(), nil), nil, 2)

	history := llm.NewHistory()
	_, err := im.Run(context.Background(), Request{Message: "write", History: &history})
	assert.Error(t, err)
}

package observability

const (
	AttrServiceName  = "service.name"
	AttrAgentID      = "agent.id"
	AttrAgentKind    = "agent.kind"
	AttrToolName     = "tool.name"
	AttrModel        = "llm.model"
	AttrTokensInput  = "llm.tokens.input"
	AttrTokensOutput = "llm.tokens.output"
	AttrErrorType    = "error.type"
	AttrEventID      = "orchestrate.event_id"

	SpanAgentRun            = "agent.run"
	SpanLLMCall             = "agent.llm_call"
	SpanToolExecution       = "agent.tool_execution"
	SpanControllerIteration = "controller.iteration"

	DefaultServiceName = "orchestrate"
)

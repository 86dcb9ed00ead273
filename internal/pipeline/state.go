package pipeline

// State is a step of the per-query state machine.
type State string

// Query states in the order they can occur. EmptyRetrieval, TransportFailure and
// MalformedModelOutput are the fallback states; each still ends in Evaluating.
const (
	StateRetrieving           State = "Retrieving"
	StateReranking            State = "Reranking"
	StateEmptyRetrieval       State = "EmptyRetrieval"
	StateContextBuilding      State = "ContextBuilding"
	StateGenerating           State = "Generating"
	StateTransportFailure     State = "TransportFailure"
	StateParsing              State = "Parsing"
	StateMalformedModelOutput State = "MalformedModelOutput"
	StateEvaluating           State = "Evaluating"
	StateLogging              State = "Logging"
	StateDone                 State = "Done"
)

// Observer is notified of every state a query enters.
type Observer func(question string, s State)

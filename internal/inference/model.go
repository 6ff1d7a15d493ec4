// internal/inference/model.go
//
// Typed inferred-model structures.
//
// Context
// -------
// The Model is a derived, disposable semantic view over one Snapshot:
// which tables are entities, which are join tables, which columns identify
// real-world things, which relationships are declared, and which concepts
// appear to be duplicated across tables.  Confidence values are heuristic
// ranking signals in [0, 1], not calibrated probabilities; downstream code
// must only ever sort by them.

package inference

// KeyType classifies what an identity column identifies.
type KeyType string

const (
	KeyEmail      KeyType = "email"
	KeyDomain     KeyType = "domain"
	KeyPhone      KeyType = "phone"
	KeyExternalID KeyType = "external_id"
	KeyUUID       KeyType = "uuid"
	KeyOther      KeyType = "other"
)

// Entity is a table believed to model a standalone business object.
type Entity struct {
	TableName  string  `json:"tableName"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// JoinTable bridges exactly two entity tables.
type JoinTable struct {
	TableName  string  `json:"tableName"`
	LeftTable  string  `json:"leftTable"`
	RightTable string  `json:"rightTable"`
	Confidence float64 `json:"confidence"`
}

// IdentityKey is a column that appears to identify an external thing.
type IdentityKey struct {
	TableName           string  `json:"tableName"`
	ColumnName          string  `json:"columnName"`
	KeyType             KeyType `json:"keyType"`
	HasUniqueConstraint bool    `json:"hasUniqueConstraint"`
	Confidence          float64 `json:"confidence"`
}

// Relationship is a typed edge between tables.  Only explicit foreign keys
// are modelled; constraint-free relationships surface as Issues instead.
type Relationship struct {
	Type       string  `json:"type"` // currently always "1:many"
	FromTable  string  `json:"fromTable"`
	ToTable    string  `json:"toTable"`
	Confidence float64 `json:"confidence"`
}

// SourceOfTruthCandidate groups tables that appear to duplicate one concept.
type SourceOfTruthCandidate struct {
	Concept              string   `json:"concept"`
	Tables               []string `json:"tables"`
	RecommendedCanonical string   `json:"recommendedCanonical"`
	Reasoning            string   `json:"reasoning"`
	Confidence           float64  `json:"confidence"`
}

// Model is the inferred semantic layer over one Snapshot.
type Model struct {
	Entities                []Entity                 `json:"entities"`
	JoinTables              []JoinTable              `json:"joinTables"`
	IdentityKeys            []IdentityKey            `json:"identityKeys"`
	Relationships           []Relationship           `json:"relationships"`
	SourceOfTruthCandidates []SourceOfTruthCandidate `json:"sourceOfTruthCandidates"`
}

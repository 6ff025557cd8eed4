package plan

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// fieldDTO/schemaDTO give Schema a gob-friendly shape; arrow.Schema itself
// carries unexported state that gob can't walk.
type fieldDTO struct {
	Name     string
	Type     string
	Nullable bool
}

type schemaDTO struct {
	Fields []fieldDTO
}

func encodeSchema(s *arrow.Schema) schemaDTO {
	if s == nil {
		return schemaDTO{}
	}
	dto := schemaDTO{Fields: make([]fieldDTO, s.NumFields())}
	for i, f := range s.Fields() {
		dto.Fields[i] = fieldDTO{Name: f.Name, Type: f.Type.Name(), Nullable: f.Nullable}
	}
	return dto
}

func decodeSchema(dto schemaDTO) *arrow.Schema {
	fields := make([]arrow.Field, len(dto.Fields))
	for i, f := range dto.Fields {
		fields[i] = arrow.Field{Name: f.Name, Type: typeByName(f.Type), Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

func typeByName(name string) arrow.DataType {
	switch name {
	case "int64":
		return arrow.PrimitiveTypes.Int64
	case "float64":
		return arrow.PrimitiveTypes.Float64
	case "bool":
		return arrow.FixedWidthTypes.Boolean
	case "utf8":
		return arrow.BinaryTypes.String
	default:
		return arrow.BinaryTypes.String
	}
}

// nodeDTO is the flattened, gob-serializable shape of every Node kind.
// ShuffleWrite/ShuffleRead round-trip through the same envelope as every
// other operator: the codec doesn't special-case them any more than the
// planner's tree-walk does.
type nodeDTO struct {
	Kind NodeKind

	// ScanNode
	Paths         []string
	NumPartitions int

	// FilterNode
	Predicate string

	// ProjectNode / AggregateNode
	Exprs      []string
	GroupBy    []string
	Aggregates []string
	Partial    bool

	// RepartitionNode / ShuffleWriteNode / ShuffleReadNode
	PartitioningKind PartitioningKind
	PartitioningExpr string
	PartitioningN    int
	StageID          int
	Consumption      ConsumptionMode

	Schema schemaDTO
	Child  *nodeDTO
}

func init() {
	gob.Register(nodeDTO{})
}

func toDTO(n Node) *nodeDTO {
	if n == nil {
		return nil
	}
	dto := &nodeDTO{Kind: n.Kind(), Schema: encodeSchema(n.Schema())}
	switch v := n.(type) {
	case *ScanNode:
		dto.Paths = v.Paths
		dto.NumPartitions = v.NumPartitions
	case *FilterNode:
		dto.Predicate = v.Predicate
		dto.Child = toDTO(v.Child)
	case *ProjectNode:
		dto.Exprs = v.Exprs
		dto.Child = toDTO(v.Child)
	case *AggregateNode:
		dto.GroupBy = v.GroupBy
		dto.Aggregates = v.Aggregates
		dto.Partial = v.Partial
		dto.Child = toDTO(v.Child)
	case *RepartitionNode:
		encodePartitioning(dto, v.Partitioning)
		dto.Child = toDTO(v.Child)
	case *CoalesceNode:
		dto.Child = toDTO(v.Child)
	case *ShuffleWriteNode:
		encodePartitioning(dto, v.Partitioning)
		dto.StageID = v.StageID
		dto.Child = toDTO(v.Child)
	case *ShuffleReadNode:
		encodePartitioning(dto, v.Partitioning)
		dto.StageID = v.StageID
		dto.Consumption = v.Consumption
	default:
		panic(fmt.Sprintf("plan: unknown node type %T", n))
	}
	return dto
}

func encodePartitioning(dto *nodeDTO, p Partitioning) {
	dto.PartitioningKind = p.Kind()
	dto.PartitioningN = p.NumPartitions()
	switch v := p.(type) {
	case Hash:
		dto.PartitioningExpr = v.Expr
	case Range:
		dto.PartitioningExpr = v.Expr
	}
}

func decodePartitioning(dto *nodeDTO) Partitioning {
	switch dto.PartitioningKind {
	case KindRoundRobin:
		return RoundRobin{N: dto.PartitioningN}
	case KindHash:
		return Hash{Expr: dto.PartitioningExpr, N: dto.PartitioningN}
	case KindRange:
		return Range{Expr: dto.PartitioningExpr, N: dto.PartitioningN}
	case KindSingleConsumer:
		return SingleConsumer{}
	default:
		return UnknownPartitioning{}
	}
}

func fromDTO(dto *nodeDTO) Node {
	if dto == nil {
		return nil
	}
	schema := decodeSchema(dto.Schema)
	switch dto.Kind {
	case KindScan:
		return &ScanNode{Paths: dto.Paths, NumPartitions: dto.NumPartitions, OutputSchema: schema}
	case KindFilter:
		return &FilterNode{Child: fromDTO(dto.Child), Predicate: dto.Predicate}
	case KindProject:
		return &ProjectNode{Child: fromDTO(dto.Child), Exprs: dto.Exprs, OutSchema: schema}
	case KindAggregate:
		return &AggregateNode{
			Child:      fromDTO(dto.Child),
			GroupBy:    dto.GroupBy,
			Aggregates: dto.Aggregates,
			Partial:    dto.Partial,
			OutSchema:  schema,
		}
	case KindRepartition:
		return &RepartitionNode{Child: fromDTO(dto.Child), Partitioning: decodePartitioning(dto)}
	case KindCoalesce:
		return &CoalesceNode{Child: fromDTO(dto.Child)}
	case KindShuffleWrite:
		return &ShuffleWriteNode{Child: fromDTO(dto.Child), StageID: dto.StageID, Partitioning: decodePartitioning(dto)}
	case KindShuffleRead:
		return &ShuffleReadNode{StageID: dto.StageID, Partitioning: decodePartitioning(dto), Consumption: dto.Consumption, InputSchema: schema}
	default:
		panic(fmt.Sprintf("plan: unknown node kind %v", dto.Kind))
	}
}

// Encode serializes a plan fragment into the plan_bytes payload RunTask
// carries (spec.md §4.3/§6). The worker deserializes it against its
// session-scoped extension registry — here, simply fromDTO, since the
// engine core ships a closed set of operator kinds.
func Encode(n Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toDTO(n)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode. It returns an error (mapped by the caller to the
// InvalidPlan taxonomy entry) rather than panicking on malformed input.
// A node kind unknown to this build (a version skew) makes fromDTO panic;
// that panic is recovered and returned as an error too.
func Decode(b []byte) (n Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plan: decode failed: %v", r)
		}
	}()
	var dto nodeDTO
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&dto); err != nil {
		return nil, err
	}
	return fromDTO(&dto), nil
}

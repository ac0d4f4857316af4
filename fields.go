package plogwatch

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MetricKind selects which Reporter primitive a sample is sent through.
type MetricKind uint8

const (
	// Gauge is a last-value metric.
	Gauge MetricKind = iota
	// Rate is a counter the host turns into a derivative.
	Rate
)

func (k MetricKind) String() string {
	switch k {
	case Gauge:
		return "gauge"
	case Rate:
		return "rate"
	default:
		return fmt.Sprintf("metrickind(%d)", uint8(k))
	}
}

// UnmarshalYAML reads a MetricKind from "gauge" or "rate".
func (k *MetricKind) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "gauge":
		*k = Gauge
	case "rate":
		*k = Rate
	default:
		return fmt.Errorf("line %d: unknown metric kind %q", node.Line, node.Value)
	}
	return nil
}

// Aggregation reduces the source value of a field to a single number.
type Aggregation uint8

const (
	// AggIdentity takes a number as-is.
	AggIdentity Aggregation = iota
	// AggSum sums a flat array of numbers.
	AggSum
	// AggSumOfSums sums every inner array of an array of arrays of numbers.
	AggSumOfSums
	// AggFirst takes the first element of an array, e.g. the latest entry of a rate history.
	AggFirst
)

func (a Aggregation) String() string {
	switch a {
	case AggIdentity:
		return "identity"
	case AggSum:
		return "sum"
	case AggSumOfSums:
		return "sum_of_sums"
	case AggFirst:
		return "first"
	default:
		return fmt.Sprintf("aggregation(%d)", uint8(a))
	}
}

// UnmarshalYAML reads an Aggregation by name. An empty value means identity.
func (a *Aggregation) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "", "identity":
		*a = AggIdentity
	case "sum":
		*a = AggSum
	case "sum_of_sums":
		*a = AggSumOfSums
	case "first":
		*a = AggFirst
	default:
		return fmt.Errorf("line %d: unknown aggregation %q", node.Line, node.Value)
	}
	return nil
}

// FieldSpec is one row of the fixed-field table: the metric Name (without prefix and suffix) is
// read from Source, a dotted path into the stats document.
type FieldSpec struct {
	Name        string      `yaml:"name"`
	Source      string      `yaml:"source"`
	Kind        MetricKind  `yaml:"kind"`
	Aggregation Aggregation `yaml:"aggregation"`
}

// Validate checks that the row can be evaluated.
func (f FieldSpec) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("field name is empty")
	}
	if strings.TrimSpace(f.Source) == "" {
		return fmt.Errorf("field %q: source is empty", f.Name)
	}
	if f.Kind > Rate {
		return fmt.Errorf("field %q: invalid kind %s", f.Name, f.Kind)
	}
	if f.Aggregation > AggFirst {
		return fmt.Errorf("field %q: invalid aggregation %s", f.Name, f.Aggregation)
	}
	return nil
}

// value resolves and aggregates the row against doc.
func (f FieldSpec) value(doc Value) (float64, error) {
	node := doc.Lookup(f.Source)
	if !node.Exists() {
		return 0, &MissingFieldError{Path: f.Source}
	}

	switch f.Aggregation {
	case AggIdentity:
		n, ok := node.Float64()
		if !ok {
			return 0, &MissingFieldError{Path: f.Source, Got: node.Kind(), Want: "number"}
		}
		return n, nil
	case AggSum:
		return sumNumbers(node, f.Source)
	case AggSumOfSums:
		if node.Kind() != KindArray {
			return 0, &MissingFieldError{Path: f.Source, Got: node.Kind(), Want: "array of arrays"}
		}
		var total float64
		for i := 0; i < node.Len(); i++ {
			inner, err := sumNumbers(node.Index(i), fmt.Sprintf("%s[%d]", f.Source, i))
			if err != nil {
				return 0, err
			}
			total += inner
		}
		return total, nil
	case AggFirst:
		if node.Kind() != KindArray {
			return 0, &MissingFieldError{Path: f.Source, Got: node.Kind(), Want: "array"}
		}
		first := node.Index(0)
		n, ok := first.Float64()
		if !ok {
			return 0, &MissingFieldError{Path: f.Source + "[0]", Got: first.Kind(), Want: "number"}
		}
		return n, nil
	default:
		return 0, fmt.Errorf("field %q: invalid aggregation %s", f.Name, f.Aggregation)
	}
}

// sumNumbers sums an array whose elements must all be numbers.
func sumNumbers(node Value, path string) (float64, error) {
	if node.Kind() != KindArray {
		return 0, &MissingFieldError{Path: path, Got: node.Kind(), Want: "array of numbers"}
	}
	var total float64
	for i := 0; i < node.Len(); i++ {
		n, ok := node.Index(i).Float64()
		if !ok {
			return 0, &MissingFieldError{
				Path: fmt.Sprintf("%s[%d]", path, i),
				Got:  node.Index(i).Kind(),
				Want: "number",
			}
		}
		total += n
	}
	return total, nil
}

// Schema is the set of metrics a server variant exposes.
type Schema struct {
	Name   string
	Fields []FieldSpec
	// Handlers enables the walk over the "handlers" array.
	Handlers bool
}

// Validate checks every row of the schema.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 && !s.Handlers {
		return errors.New("schema has no fields and no handlers walk")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

func rate(name, source string) FieldSpec {
	return FieldSpec{Name: name, Source: source, Kind: Rate}
}

func rateAgg(name, source string, agg Aggregation) FieldSpec {
	return FieldSpec{Name: name, Source: source, Kind: Rate, Aggregation: agg}
}

func gauge(name, source string) FieldSpec {
	return FieldSpec{Name: name, Source: source, Kind: Gauge}
}

func fragmentFields() []FieldSpec {
	return []FieldSpec{
		rateAgg("invalid_checksum", "v0_invalid_checksum", AggSum),
		rateAgg("fragments", "v0_fragments", AggSum),
		rateAgg("missing_fragments", "dropped_fragments", AggSumOfSums),
		rateAgg("invalid_fragments", "v0_invalid_fragments", AggSumOfSums),
	}
}

func cacheFields(object string) []FieldSpec {
	return []FieldSpec{
		rate(object+".evictions", object+".evictions"),
		rate(object+".hits", object+".hits"),
		rate(object+".miss", object+".misses"),
	}
}

func kafkaFields() []FieldSpec {
	return []FieldSpec{
		rateAgg("kafka.messages", "kafka.messageRate.rate", AggFirst),
		rateAgg("kafka.dropped", "kafka.droppedMessageRate.rate", AggFirst),
		rateAgg("kafka.bytes", "kafka.byteRate.rate", AggFirst),
		rateAgg("kafka.resends", "kafka.resendRate.rate", AggFirst),
		rateAgg("kafka.failed_sends", "kafka.failedSendRate.rate", AggFirst),
		rateAgg("kafka.serialization_errors", "kafka.serializationErrorRate.rate", AggFirst),
	}
}

// DefaultSchema exposes the counters, the fragment histograms, the cache statistics and the Kafka
// rates, and walks the handlers.
func DefaultSchema() Schema {
	fields := []FieldSpec{
		gauge("uptime", "uptime"),
		rate("exceptions", "exceptions"),
		rate("unhandled_objects", "unhandled_objects"),
		rate("udp_simple", "udp_simple_messages"),
		rate("udp_invalid_version", "udp_invalid_version"),
		rate("unknown_command", "unknown_command"),
		rate("holes.from_dead_port", "holes_from_dead_port"),
		rate("holes.from_new_message", "holes_from_new_message"),
	}
	fields = append(fields, fragmentFields()...)
	fields = append(fields, cacheFields("cache")...)
	fields = append(fields, kafkaFields()...)
	return Schema{Name: "default", Fields: fields, Handlers: true}
}

// DefragmenterSchema matches servers that report a defragmenter instead of a cache and forward
// through handlers rather than a built-in Kafka producer.
func DefragmenterSchema() Schema {
	fields := []FieldSpec{
		gauge("uptime", "uptime"),
		rate("udp_simple", "udp_simple_messages"),
		rate("udp_invalid_version", "udp_invalid_version"),
		rate("v0_invalid_type", "v0_invalid_type"),
		rate("v0_invalid_multipart_header", "v0_invalid_multipart_header"),
		rate("unknown_command", "unknown_command"),
		rate("v0_commands", "v0_commands"),
		rate("exceptions", "exceptions"),
		rate("unhandled_objects", "unhandled_objects"),
		rate("holes.from_dead_port", "holes_from_dead_port"),
		rate("holes.from_new_message", "holes_from_new_message"),
	}
	fields = append(fields, fragmentFields()...)
	fields = append(fields, cacheFields("defragmenter")...)
	return Schema{Name: "defragmenter", Fields: fields, Handlers: true}
}

// LegacySchema matches the oldest servers, which have no handlers.
func LegacySchema() Schema {
	fields := []FieldSpec{
		gauge("uptime", "uptime"),
		rate("exceptions", "exceptions"),
		rate("failed_to_send", "failed_to_send"),
		rate("udp_simple", "udp_simple_messages"),
		rate("holes.from_dead_port", "holes_from_dead_port"),
		rate("holes.from_new_message", "holes_from_new_message"),
	}
	fields = append(fields, fragmentFields()...)
	fields = append(fields, cacheFields("cache")...)
	fields = append(fields, kafkaFields()...)
	return Schema{Name: "legacy", Fields: fields, Handlers: false}
}

// SchemaByName returns a built-in schema. An empty name selects the default schema.
func SchemaByName(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultSchema(), nil
	case "defragmenter":
		return DefragmenterSchema(), nil
	case "legacy":
		return LegacySchema(), nil
	default:
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
}

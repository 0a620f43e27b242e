// Package classifier assesses the risk level of agent action requests using
// an ordered, configurable table of patterns. Evaluation is deterministic:
// levels are scanned from critical down to low and the first match wins.
package classifier

package bpmn20

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// xmlNode is a generic view of the definition document; the BPMN schema is
// mapped onto Element by local tag name.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
	Text    string     `xml:",chardata"`
}

func (n xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

var elementTypesByTag = map[string]ElementType{
	"definitions":            ElementTypeDefinition,
	"process":                ElementTypeProcess,
	"lane":                   ElementTypeLane,
	"startEvent":             ElementTypeStartEvent,
	"endEvent":               ElementTypeEndEvent,
	"intermediateCatchEvent": ElementTypeIntermediateCatchEvent,
	"exclusiveGateway":       ElementTypeExclusiveGateway,
	"parallelGateway":        ElementTypeParallelGateway,
	"inclusiveGateway":       ElementTypeInclusiveGateway,
	"sequenceFlow":           ElementTypeSequenceFlow,
	"task":                   ElementTypeTask,
	"userTask":               ElementTypeUserTask,
	"manualTask":             ElementTypeManualTask,
	"serviceTask":            ElementTypeServiceTask,
	"scriptTask":             ElementTypeScriptTask,
	"sendTask":               ElementTypeSendTask,
	"receiveTask":            ElementTypeReceiveTask,
	"businessRuleTask":       ElementTypeBusinessRuleTask,
}

// LoadFromFile loads a definition document from disk and indexes it.
func LoadFromFile(filename string) (*Graph, error) {
	xmlData, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load from file: %w", err)
	}
	return LoadFromBytes(xmlData)
}

// LoadFromBytes parses one definition document and indexes it.
func LoadFromBytes(xmlData []byte) (*Graph, error) {
	def, err := ParseDefinition(xmlData)
	if err != nil {
		return nil, err
	}
	return NewGraph(def)
}

// ParseDefinition parses a definition document into its element tree
// without indexing it, so several documents can share one Graph.
func ParseDefinition(xmlData []byte) (*Element, error) {
	var root xmlNode
	decoder := xml.NewDecoder(bytes.NewReader(xmlData))
	if err := decoder.Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal xml data: %w", err)
	}
	if root.XMLName.Local != "definitions" {
		return nil, fmt.Errorf("unable to load a business process from the supplied document: %w", ErrNoDefinitions)
	}
	return convert(root), nil
}

func convert(n xmlNode) *Element {
	e := &Element{
		Id:   n.attr("id"),
		Name: n.attr("name"),
		Type: elementTypesByTag[n.XMLName.Local],
	}
	if e.Id == "" {
		e.Id = uuid.NewString()
	}
	switch e.Type {
	case ElementTypeSequenceFlow:
		e.SourceRef = n.attr("sourceRef")
		e.TargetRef = n.attr("targetRef")
	case ElementTypeExclusiveGateway, ElementTypeInclusiveGateway:
		e.Default = n.attr("default")
	case ElementTypeScriptTask:
		e.ScriptFormat = n.attr("scriptFormat")
	}
	for _, child := range n.Nodes {
		tag := child.XMLName.Local
		switch tag {
		case "incoming":
			e.Incoming = append(e.Incoming, strings.TrimSpace(child.Text))
			continue
		case "outgoing":
			e.Outgoing = append(e.Outgoing, strings.TrimSpace(child.Text))
			continue
		case "conditionExpression":
			e.Condition = strings.TrimSpace(child.Text)
			continue
		case "script":
			e.Script = strings.TrimSpace(child.Text)
			continue
		case "conditionalEventDefinition":
			for _, condition := range child.Nodes {
				if condition.XMLName.Local == "condition" {
					e.Condition = strings.TrimSpace(condition.Text)
				}
			}
			continue
		case "flowNodeRef":
			e.FlowNodeRefs = append(e.FlowNodeRefs, strings.TrimSpace(child.Text))
			continue
		case "laneSet", "childLaneSet":
			// lanes are flattened into the owning container
			for _, lane := range child.Nodes {
				if lane.XMLName.Local == "lane" {
					e.Children = append(e.Children, convert(lane))
				}
			}
			continue
		}
		if _, known := elementTypesByTag[tag]; !known {
			// diagram interchange, documentation, extension elements
			continue
		}
		e.Children = append(e.Children, convert(child))
	}
	return e
}

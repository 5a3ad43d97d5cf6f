package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeEntitiesAndRelations(t *testing.T) {
	b := newGraphBuilder("papers")

	require.NoError(t, b.mergeEntitiesAndRelations("c0", cleanResponse(extractResponse{
		Entities: []extractEntity{
			{Name: " Ada ", Label: "Person", Properties: props("born", "1815")},
			{Name: "Babbage", Label: "Person"},
			{Name: "", Label: "Person"},
		},
		Relationships: []extractRelationship{
			{Source: "ada", Target: "Babbage", Type: "worked with"},
			{Source: "Ada", Target: "Ada", Type: "IS"},
			{Source: "Ada", Target: "Ghost", Type: "KNOWS"},
		},
	})))
	require.NoError(t, b.mergeEntitiesAndRelations("c1", cleanResponse(extractResponse{
		Entities: []extractEntity{
			{Name: "ADA", Label: "Person", Properties: props("born", "1816", "title", "Countess")},
			{Name: "Babbage", Label: "Person"},
			{Name: "Ada", Label: "Ship"},
		},
		Relationships: []extractRelationship{
			{Source: "Ada", Target: "Babbage", Type: "WORKED_WITH"},
		},
	})))

	require.Len(t, b.entities, 3)
	ada := b.entities[0]
	assert.Equal(t, "Ada", ada.Name)
	assert.Equal(t, "papers", ada.IndexName)
	assert.Equal(t, []string{"c0", "c1"}, ada.Sources)
	assert.Equal(t, map[string]any{"born": "1815", "title": "Countess"}, ada.Properties)
	assert.Equal(t, "Ship", b.entities[2].Label)

	require.Len(t, b.relations, 1)
	rel := b.relations[0]
	assert.Equal(t, "WORKED_WITH", rel.Type)
	assert.Equal(t, ada.ID, rel.SourceID)
	assert.Equal(t, b.entities[1].ID, rel.TargetID)
	assert.Equal(t, []string{"c0", "c1"}, rel.Sources)
}

func TestToProperties(t *testing.T) {
	assert.Nil(t, toProperties(nil))
	assert.Equal(t,
		map[string]any{"a": "1"},
		toProperties(props("a", "1", "a", "2", "name", "x", " ", "y")),
	)
}

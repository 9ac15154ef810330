// Package query builds diverse search queries from the vaccine-hesitancy
// taxonomy. Generation is a pure function of the vocabulary and a seeded
// random source, so a fixed seed always yields the same queries.
package query

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// Template is a query pattern with {topic}, {forum}, {perspective},
// {demographic} and {context} placeholders.
type Template string

// Templates are rendered once per draw, in this order.
var Templates = []Template{
	"site:{forum} {topic}",
	"site:{forum} {demographic} and {topic}",
	"site:{forum} {perspective} view on {topic}",
	"site:{forum} {topic} in {demographic}",
	"site:{forum} how {context} affects {topic}",
}

// Query is a generated search string together with the parameters that
// produced it.
type Query struct {
	Text        string   `json:"text"`
	Topic       string   `json:"topic"`
	Perspective string   `json:"perspective"`
	Demographic string   `json:"demographic"`
	Forum       string   `json:"forum"`
	Context     string   `json:"context"`
	Template    Template `json:"template"`
}

// Generator draws queries from a Vocabulary. It is safe for concurrent use.
type Generator struct {
	vocab Vocabulary

	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator seeded with seed.
func New(vocab Vocabulary, seed int64) (*Generator, error) {
	if err := vocab.Validate(); err != nil {
		return nil, err
	}
	s := uint64(seed)
	return &Generator{
		vocab: vocab.clone(),
		rng:   rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15)),
	}, nil
}

// Vocabulary returns a copy of the generator's taxonomy.
func (g *Generator) Vocabulary() Vocabulary {
	return g.vocab.clone()
}

// Topics returns the topic list in vocabulary order.
func (g *Generator) Topics() []string {
	return append([]string(nil), g.vocab.Topics...)
}

// Generate returns n draws rendered through every template, draw-major, so
// the result holds n*len(Templates) queries. An empty topic is replaced by
// one picked uniformly from the vocabulary; any other topic is used verbatim.
func (g *Generator) Generate(topic string, n int) []Query {
	if n <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if topic == "" {
		topic = g.pick(g.vocab.Topics)
	}

	out := make([]Query, 0, n*len(Templates))
	for i := 0; i < n; i++ {
		perspective := g.pick(g.vocab.Perspectives)
		demographic := g.pick(g.vocab.Demographics)
		forum := g.pick(g.vocab.Forums)
		context := g.pick(g.vocab.Contexts)

		r := strings.NewReplacer(
			"{topic}", topic,
			"{forum}", forum,
			"{perspective}", perspective,
			"{demographic}", demographic,
			"{context}", context,
		)
		for _, tmpl := range Templates {
			out = append(out, Query{
				Text:        r.Replace(string(tmpl)),
				Topic:       topic,
				Perspective: perspective,
				Demographic: demographic,
				Forum:       forum,
				Context:     context,
				Template:    tmpl,
			})
		}
	}
	return out
}

// pick must be called with g.mu held.
func (g *Generator) pick(list []string) string {
	return list[g.rng.IntN(len(list))]
}

// Strings flattens queries to their text.
func Strings(qs []Query) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Text
	}
	return out
}

func (q Query) String() string {
	return fmt.Sprintf("%s [topic=%q]", q.Text, q.Topic)
}

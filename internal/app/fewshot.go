package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

// Sampler draws few-shot examples from the reviewed summaries dataset.
type Sampler struct {
	Datasets    DatasetRepo
	DatasetName string
	NumFewShots int
	// Shuffle defaults to math/rand/v2's Shuffle.
	Shuffle func(n int, swap func(i, j int))
}

// Sample returns up to NumFewShots examples in random order. A missing
// dataset yields no examples.
func (s Sampler) Sample(ctx context.Context) ([]domain.Example, error) {
	exists, err := s.Datasets.Exists(ctx, s.DatasetName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	examples, err := s.Datasets.ListExamples(ctx, s.DatasetName)
	if err != nil {
		return nil, err
	}

	shuffle := s.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	shuffle(len(examples), func(i, j int) { examples[i], examples[j] = examples[j], examples[i] })

	if len(examples) > s.NumFewShots {
		examples = examples[:max(s.NumFewShots, 0)]
	}
	return examples, nil
}

// Block renders a sample as the text bound to the prompt's examples
// variable.
func (s Sampler) Block(ctx context.Context) (string, error) {
	examples, err := s.Sample(ctx)
	if err != nil {
		return "", err
	}

	blocks := make([]string, 0, len(examples))
	for _, e := range examples {
		blocks = append(blocks, formatExample(e))
	}
	return strings.Join(blocks, "\n"), nil
}

func formatExample(e domain.Example) string {
	return fmt.Sprintf(`<example>
    <original>
    %s
    </original>
    <summary>
    %s
    </summary>
</example>`, e.Input, e.Output)
}

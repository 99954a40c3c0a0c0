package samples

import (
	"context"
	"encoding/json"
	"fmt"
)

// PutDocument indexes doc under id with an immediate refresh. A nil doc
// stores SampleMetric.
func (s *Samples) PutDocument(ctx context.Context, index, id string, doc []byte) error {
	s.title("SingleDocumentSample.putDocument")

	if doc == nil {
		var err error
		if doc, err = json.Marshal(SampleMetric()); err != nil {
			return err
		}
	}
	if !json.Valid(doc) {
		return fmt.Errorf("document %s is not valid JSON", id)
	}
	s.printf("Request body: \n%s\n", doc)

	res, err := s.client.IndexDocument(ctx, index, id, doc, true)
	if err != nil {
		return fmt.Errorf("indexing document %s: %w", id, err)
	}
	s.printf("Indexed document with version %d\n", res.Version)
	return nil
}

func (s *Samples) GetDocument(ctx context.Context, index, id string) error {
	s.title("SingleDocumentSample.retrieveSingleDocument")

	doc, err := s.client.GetDocument(ctx, index, id)
	if err != nil {
		return fmt.Errorf("getting document %s: %w", id, err)
	}
	if !doc.Found {
		s.printf("Document not found\n")
		return nil
	}

	s.printf("Document found\n")
	// _source is empty when the mapping disabled it
	if len(doc.Source) > 0 {
		s.printf("Document: \n%s\n", pretty(doc.Source))
	}
	return nil
}

func (s *Samples) DeleteDocument(ctx context.Context, index, id string) error {
	s.title("SingleDocumentSample.deleteDocument")

	res, err := s.client.DeleteDocument(ctx, index, id, true)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	switch res.Result {
	case "deleted":
		s.printf("Document deleted.\n")
	case "not_found":
		s.printf("Document does not exist.\n")
	}
	return nil
}

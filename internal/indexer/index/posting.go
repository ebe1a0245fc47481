package index

// Document is the unit of ingestion. ID is caller-assigned and unique per
// collection; Embedding is optional.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// Posting records one document's occurrences of a term. Positions are token
// ordinals, not byte offsets.
type Posting struct {
	DocID     string `json:"d"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

// PendingDoc is a tokenized document waiting for the next commit.
type PendingDoc struct {
	Doc    Document
	Terms  map[string]*Posting
	Length int
}

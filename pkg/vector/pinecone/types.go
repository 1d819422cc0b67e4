package pinecone

type indexStatus struct {
	Ready bool   `json:"ready"`
	State string `json:"state,omitempty"`
}

type indexDescription struct {
	Name      string      `json:"name"`
	Dimension int         `json:"dimension"`
	Host      string      `json:"host"`
	Status    indexStatus `json:"status"`
}

type indexList struct {
	Indexes []indexDescription `json:"indexes"`
}

type serverlessSpec struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
}

type podSpec struct {
	Environment string `json:"environment"`
	PodType     string `json:"pod_type"`
}

type indexSpec struct {
	Serverless *serverlessSpec `json:"serverless,omitempty"`
	Pod        *podSpec        `json:"pod,omitempty"`
}

type createIndexRequest struct {
	Name      string    `json:"name"`
	Dimension uint      `json:"dimension"`
	Metric    string    `json:"metric"`
	Spec      indexSpec `json:"spec"`
}

type upsertVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []upsertVector `json:"vectors"`
	Namespace string         `json:"namespace,omitempty"`
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Namespace       string         `json:"namespace,omitempty"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeValues   bool           `json:"includeValues"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

type queryResponse struct {
	Matches []match `json:"matches"`
}

type fetchResponse struct {
	Vectors map[string]match `json:"vectors"`
}

type deleteRequest struct {
	IDs       []string `json:"ids,omitempty"`
	DeleteAll bool     `json:"deleteAll,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
}

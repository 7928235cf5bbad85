package models

// KnowledgeBase groups uploaded documents for retrieval.
type KnowledgeBase struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Active        bool      `json:"active"`
	DocumentCount int       `json:"documentCount"`
	CreatedAt     Timestamp `json:"createdAt"`
	UpdatedAt     Timestamp `json:"updatedAt"`
}

// KnowledgeBaseInput carries the multipart fields for create and update.
type KnowledgeBaseInput struct {
	Name        string `validate:"required,max=100"`
	Description string `validate:"max=500"`
}

// ProcessStatus is the ingestion state of a document.
type ProcessStatus string

const (
	ProcessPending    ProcessStatus = "PENDING"
	ProcessProcessing ProcessStatus = "PROCESSING"
	ProcessCompleted  ProcessStatus = "COMPLETED"
	ProcessFailed     ProcessStatus = "FAILED"
)

// Document is an uploaded file inside a knowledge base.
type Document struct {
	ID               int64         `json:"id"`
	Filename         string        `json:"filename"`
	OriginalFilename string        `json:"originalFilename"`
	FileSize         int64         `json:"fileSize"`
	MimeType         string        `json:"mimeType"`
	ProcessStatus    ProcessStatus `json:"processStatus"`
	ProcessMessage   string        `json:"processMessage,omitempty"`
	ChunkCount       int           `json:"chunkCount"`
	CreatedAt        Timestamp     `json:"createdAt"`
	ProcessedAt      *Timestamp    `json:"processedAt,omitempty"`
}

// CharacterStatus is the lifecycle state of a role-play character.
type CharacterStatus string

const (
	CharacterDraft      CharacterStatus = "DRAFT"
	CharacterActive     CharacterStatus = "ACTIVE"
	CharacterInactive   CharacterStatus = "INACTIVE"
	CharacterGenerating CharacterStatus = "GENERATING"
)

// Character is a persona backed by a knowledge base.
type Character struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	AvatarURL         string          `json:"avatarUrl,omitempty"`
	Status            CharacterStatus `json:"status"`
	IsPublic          bool            `json:"isPublic"`
	KnowledgeBaseID   int64           `json:"knowledgeBaseId"`
	KnowledgeBaseName string          `json:"knowledgeBaseName,omitempty"`
	CreatedAt         Timestamp       `json:"createdAt"`
	UpdatedAt         Timestamp       `json:"updatedAt"`
}

// CharacterInput is the body of POST /characters and PUT /characters/{id}.
// KnowledgeBaseID is ignored by updates.
type CharacterInput struct {
	Name            string `json:"name" validate:"required,max=100"`
	Description     string `json:"description,omitempty" validate:"max=1000"`
	AvatarURL       string `json:"avatarUrl,omitempty" validate:"omitempty,url"`
	KnowledgeBaseID int64  `json:"knowledgeBaseId,omitempty"`
	IsPublic        bool   `json:"isPublic"`
}

// AskRequest carries the multipart fields of POST /rag/ask.
type AskRequest struct {
	Question        string `validate:"required"`
	KnowledgeBaseID int64  `validate:"gt=0"`
	SessionID       string
}

// AskResponse is the answer produced by the RAG engine.
type AskResponse struct {
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	KnowledgeBaseID int64     `json:"knowledgeBaseId"`
	SessionID       string    `json:"sessionId,omitempty"`
	ResponseTimeMs  int64     `json:"responseTimeMs"`
	Timestamp       Timestamp `json:"timestamp"`
}

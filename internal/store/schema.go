package store

// Schema v1 - projects, the book/chapter/verse tree and the job audit trail
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Ingested projects; name uniqueness is soft, via a (n) suffix
CREATE TABLE IF NOT EXISTS projects (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  owner TEXT NOT NULL DEFAULT '',
  script_lang TEXT NOT NULL DEFAULT '',
  audio_lang TEXT NOT NULL DEFAULT '',
  archived INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS books (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  code TEXT NOT NULL,
  UNIQUE(project_id, code)
);

-- missing_verses is a JSON array, NULL when nothing is missing
CREATE TABLE IF NOT EXISTS chapters (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
  number INTEGER NOT NULL,
  approved INTEGER NOT NULL DEFAULT 0,
  missing_verses TEXT,
  UNIQUE(book_id, number)
);

-- version is bumped on every write so concurrent batches can detect each other
CREATE TABLE IF NOT EXISTS verses (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  chapter_id INTEGER NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
  number INTEGER NOT NULL,
  name TEXT NOT NULL,
  path TEXT NOT NULL,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  format TEXT NOT NULL DEFAULT '',
  stt INTEGER NOT NULL DEFAULT 0,
  stt_msg TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL DEFAULT '',
  modified INTEGER NOT NULL DEFAULT 0,
  tts INTEGER NOT NULL DEFAULT 0,
  tts_path TEXT NOT NULL DEFAULT '',
  tts_msg TEXT NOT NULL DEFAULT '',
  version INTEGER NOT NULL DEFAULT 1,
  UNIQUE(chapter_id, number)
);

-- Append-only: one row per STT or TTS attempt
CREATE TABLE IF NOT EXISTS jobs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  verse_id INTEGER NOT NULL REFERENCES verses(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  external_id TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  message TEXT NOT NULL DEFAULT '',
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Schema v2 - lookup indexes
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name);
CREATE INDEX IF NOT EXISTS idx_books_project ON books(project_id);
CREATE INDEX IF NOT EXISTS idx_chapters_book ON chapters(book_id, number);
CREATE INDEX IF NOT EXISTS idx_verses_chapter ON verses(chapter_id, number);
CREATE INDEX IF NOT EXISTS idx_jobs_verse ON jobs(verse_id, id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

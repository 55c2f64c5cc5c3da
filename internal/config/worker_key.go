package config

type WorkerKeyStruct struct {
	PersistSessionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSessionsQueue: "persist_sessions_queue",
}

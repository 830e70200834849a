// Package live implements real-time Mandarin to English voice
// translation sessions.
//
// A session wires four concerns into one conversational loop:
// streaming transcription of the user's Mandarin, turn detection that
// decides when they have finished a thought, LLM translation into
// English, and streaming synthesis of the spoken reply. Audio goes in
// through SendAudio as 16-bit mono PCM; everything the session does
// comes back out as events on a single channel.
//
// # Turn detection
//
// Detection is hybrid. A final transcription ending in sentence
// punctuation (Mandarin or Western) triggers an immediate completion
// check; transcript inactivity forces one after a timeout. The check
// asks a small LLM call whether the transcript reads like a finished
// thought, so "我想说，" keeps the floor with the user while "我说完了。"
// commits. A timeout that fires twice on an unchanged transcript
// commits without confirmation.
//
// # Grace period
//
// When a turn commits, the reply starts generating immediately, and a
// continuation window opens alongside it. If the user speaks again
// before the window closes, the pending reply is cancelled and the new
// speech merges into the committed turn; nothing is ever spoken over
// the user. If the window expires quietly, the reply, already
// generated or well underway, plays with no added latency.
//
// # Interrupts
//
// Speech during playback pauses the audio and opens a short capture
// window seeded with pre-roll audio. What was captured is classified:
// backchannels like "嗯" or "okay" resume playback where it paused,
// while a real interrupt stops the reply, saves the partial in the
// history, and feeds the captured speech in as the next turn.
//
// # Output policy
//
// The complete reply text passes through a TextOutputPolicy exactly
// once before synthesis. The default policy strips reasoning tags and
// replaces untranslated Mandarin with a spoken fallback, so the voice
// never reads out characters the TTS voice cannot say. The policy
// output is then chunked on punctuation and word boundaries into a
// single streaming synthesis context.
//
// # Usage
//
//	session := live.NewSession(live.DefaultSessionConfig(), llm, ttsProvider, sttProvider)
//	if err := session.Start(ctx); err != nil {
//		return err
//	}
//	defer session.Close()
//
//	go func() {
//		for frame := range micFrames {
//			session.SendAudio(frame)
//		}
//	}()
//
//	for event := range session.Events() {
//		switch e := event.(type) {
//		case *live.ReplyAudioEvent:
//			speaker.Write(e.Data)
//		case *live.AudioFlushEvent:
//			speaker.Flush()
//		case *live.TranscriptFinalEvent:
//			fmt.Println("heard:", e.Text)
//		}
//	}
package live

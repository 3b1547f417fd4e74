package vision

const systemPrompt = `You are a veterinary AI assistant analyzing dog stool images.
Analyze the image and extract structured observations, then generate relevant follow-up questions.
Be precise and professional. If you cannot clearly identify something, use "unknown" and note limitations in the notes field.`

const userPrompt = `Record your observations of this image with the record_observations tool.

observations:
  consistency: loose | formed | hard | watery | unknown
  color: brown | yellow | green | black | red | tan | unknown
  mucus: true | false
  blood: none | specks | streaks | visible
  foreign_material: none | grass | plastic | undigested_food | unknown
  notes: detailed description of what you observe

questions, exactly these ids in this order:
  {"id":"duration","type":"number","label":"How many days has this been occurring?","required":true}
  {"id":"diet_change","type":"select","label":"Any recent diet changes?","options":["No","Yes (new brand)","Yes (new protein)"],"required":false}
  {"id":"vomiting","type":"select","label":"Has your dog been vomiting?","options":["No","Once","Multiple times"],"required":false}
  {"id":"energy","type":"select","label":"How is your dog's energy level?","options":["Normal","Slightly low","Low"],"required":false}
  {"id":"deworming_recent","type":"select","label":"When was the last deworming?","options":["No","Within 3 months","> 3 months ago"],"required":false}`
